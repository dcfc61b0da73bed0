package service

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"

	"cryptofolio/internal/domain/model"
)

// Fingerprint 计算快照的规范化摘要
//
// The three sequences are serialized in their stored order, so reordering
// elements yields a different token. Nil and empty slices are equivalent.
func Fingerprint(s model.Snapshot) string {
	b, err := CanonicalBytes(s)
	if err != nil {
		// Marshal only fails on NaN/Inf
		b, err = nonFiniteBytes(s)
		if err != nil {
			return "invalid:" + err.Error()
		}
	}
	return formatDigest(xxhash.Sum64(b))
}

// CanonicalBytes returns the serialization Fingerprint hashes.
func CanonicalBytes(s model.Snapshot) ([]byte, error) {
	return json.Marshal(s.Normalized())
}

// nonFiniteBytes zeroes every NaN/Inf field and appends its path and value
// after a NUL byte, which never occurs in marshaled JSON.
func nonFiniteBytes(s model.Snapshot) ([]byte, error) {
	c := s.Clone().Normalized()
	var marks []string
	fix := func(path string, v *float64) {
		if math.IsNaN(*v) || math.IsInf(*v, 0) {
			marks = append(marks, path+"="+strconv.FormatFloat(*v, 'g', -1, 64))
			*v = 0
		}
	}
	for i := range c.Holdings {
		fix("h"+strconv.Itoa(i)+".quantity", &c.Holdings[i].Quantity)
		fix("h"+strconv.Itoa(i)+".buyPrice", &c.Holdings[i].BuyPrice)
	}
	for i := range c.AllocationLogs {
		fix("l"+strconv.Itoa(i)+".quantity", &c.AllocationLogs[i].Quantity)
		if c.AllocationLogs[i].SecondQuantity != nil {
			fix("l"+strconv.Itoa(i)+".quantity2", c.AllocationLogs[i].SecondQuantity)
		}
	}
	for i := range c.Alerts {
		fix("a"+strconv.Itoa(i)+".targetValue", &c.Alerts[i].TargetValue)
	}

	b, err := json.Marshal(c)
	if err != nil {
		return nil, err
	}
	b = append(b, 0)
	return append(b, strings.Join(marks, ";")...), nil
}

func formatDigest(sum uint64) string {
	out := strconv.FormatUint(sum, 16)
	for len(out) < 16 {
		out = "0" + out
	}
	return out
}
