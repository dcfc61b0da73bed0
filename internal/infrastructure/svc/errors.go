package svc

import "errors"

// ErrStorageInitFailed 错误：存储初始化失败
var ErrStorageInitFailed = errors.New("storage initialization failed")

// ErrNoRemoteStore 错误：没有可用的远端档案存储
var ErrNoRemoteStore = errors.New("no remote profile store available")
