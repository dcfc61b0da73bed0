package console

import (
	"fmt"
	"strings"

	"cryptofolio/internal/domain/model"
)

// RenderSnapshot 一行摘要：档位、持仓、分配记录与提醒状态
func RenderSnapshot(snap model.Snapshot, profile model.Profile, origin string) string {
	var sb strings.Builder
	sb.WriteString(colorize("[CRYPTOFOLIO] ", ansiDim))
	sb.WriteString(colorize(strings.ToUpper(string(profile.Tier)), ansiGreen))
	if profile.Role == model.RoleAdmin {
		sb.WriteString(colorize(" admin", ansiYellow))
	}

	fmt.Fprintf(&sb, "  holdings=%d", len(snap.Holdings))
	if len(snap.Holdings) > 0 {
		ids := make([]string, 0, len(snap.Holdings))
		for _, h := range snap.Holdings {
			ids = append(ids, h.AssetID)
		}
		sb.WriteString(colorize(" ("+strings.Join(ids, ",")+")", ansiDim))
	}
	fmt.Fprintf(&sb, "  allocations=%d", len(snap.AllocationLogs))

	active, triggered := 0, 0
	for _, a := range snap.Alerts {
		if !a.IsActive {
			continue
		}
		active++
		if a.TriggeredAt != nil {
			triggered++
		}
	}
	fmt.Fprintf(&sb, "  alerts=%d/%d", active, len(snap.Alerts))
	if triggered > 0 {
		sb.WriteString(colorize(fmt.Sprintf(" triggered=%d", triggered), ansiRed))
	}
	sb.WriteString(colorize("  <"+origin+">", ansiDim))
	return sb.String()
}
