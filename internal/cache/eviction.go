package cache

import "sort"

// SelectVictims 按访问时间从旧到新（时间相同按 Key 排序）挑选待删除条目，
// 直到 currentTotal 减去已选大小不超过 budget。budget <= 0 时选中全部。
// 这是基于 mtime 的 LRU 近似，淘汰在后台执行，不在读路径上。
func SelectVictims(entries []Entry, budget, currentTotal int64) []Key {
	if len(entries) == 0 {
		return nil
	}

	sorted := make([]Entry, len(entries))
	copy(sorted, entries)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].AccessTime.Equal(sorted[j].AccessTime) {
			return sorted[i].Key.Less(sorted[j].Key)
		}
		return sorted[i].AccessTime.Before(sorted[j].AccessTime)
	})

	if budget <= 0 {
		victims := make([]Key, len(sorted))
		for i, entry := range sorted {
			victims[i] = entry.Key
		}
		return victims
	}

	var (
		victims []Key
		removed int64
	)
	for _, entry := range sorted {
		if currentTotal-removed <= budget {
			break
		}
		victims = append(victims, entry.Key)
		removed += entry.SizeBytes
	}
	return victims
}
