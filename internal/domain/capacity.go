package domain

import "sort"

// CapacityPlan 创建新邮箱前需要执行的清理动作
type CapacityPlan struct {
	Delete     []string `json:"delete,omitempty"`
	Deactivate []string `json:"deactivate,omitempty"`
}

// Evicted 计划是否删除或停用了任何邮箱
func (p CapacityPlan) Evicted() bool {
	return len(p.Delete) > 0 || len(p.Deactivate) > 0
}

// PlanCapacity 计算为新邮箱腾出位置的清理计划。
//
// 规则：
//   - 数量未达上限时不做任何事
//   - 按创建时间从旧到新删除非活跃邮箱，直到低于上限
//   - 仍处于上限时停用（不删除）最旧的活跃邮箱，此时总数可能为上限加一
//
// limit <= 0 表示不限制。
func PlanCapacity(existing []Mailbox, limit int) CapacityPlan {
	var plan CapacityPlan
	if limit <= 0 || len(existing) < limit {
		return plan
	}

	sorted := make([]Mailbox, len(existing))
	copy(sorted, existing)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].CreatedAt.Equal(sorted[j].CreatedAt) {
			return sorted[i].ID < sorted[j].ID
		}
		return sorted[i].CreatedAt.Before(sorted[j].CreatedAt)
	})

	count := len(sorted)
	for _, mb := range sorted {
		if count < limit {
			break
		}
		if !mb.Active {
			plan.Delete = append(plan.Delete, mb.ID)
			count--
		}
	}

	if count >= limit {
		for _, mb := range sorted {
			if mb.Active {
				plan.Deactivate = append(plan.Deactivate, mb.ID)
				break
			}
		}
	}

	return plan
}
