package rollup

import "sort"

// NearestRank: перцентиль методом nearest-rank: индекс clamp(ceil(p/100·n)−1, 0, n−1)
// по отсортированной выборке. Пустая выборка дает 0. Срез не меняется.
// Ранг считается в целых числах, чтобы не ловить ошибки округления float.
func NearestRank(values []int64, p int) int64 {
	n := len(values)
	if n == 0 {
		return 0
	}
	sorted := append([]int64(nil), values...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	rank := (p*n + 99) / 100 // ceil(p·n/100)
	idx := rank - 1
	if idx < 0 {
		idx = 0
	}
	if idx > n-1 {
		idx = n - 1
	}
	return sorted[idx]
}

// P95 — перцентиль латентности для роллапов
func P95(values []int64) int64 {
	return NearestRank(values, 95)
}
