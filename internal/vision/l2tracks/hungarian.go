package l2tracks

import "math"

// hungarianAssign solves the rectangular minimum-cost assignment problem
// with the Kuhn–Munkres algorithm (shortest augmenting paths with
// potentials). It returns rows[i] = column assigned to row i, or -1.
// NaN or infinite entries are never assigned; finite entries must be
// non-negative. The result has the most eligible pairs possible and,
// among those, the lowest total cost.
func hungarianAssign(cost [][]float64) []int {
	n := len(cost)
	if n == 0 {
		return nil
	}
	m := len(cost[0])
	rows := make([]int, n)
	for i := range rows {
		rows[i] = -1
	}
	if m == 0 {
		return rows
	}

	// The solver below needs rows <= cols; solve the transpose otherwise.
	if n > m {
		t := make([][]float64, m)
		for j := range t {
			t[j] = make([]float64, n)
			for i := 0; i < n; i++ {
				t[j][i] = cost[i][j]
			}
		}
		for j, i := range hungarianAssign(t) {
			if i >= 0 {
				rows[i] = j
			}
		}
		return rows
	}

	// Forbidden cells cost more than any full assignment of finite cells,
	// so the solver never trades an eligible pair for a cheaper total. The
	// bound is kept close to the data to preserve float64 precision.
	var maxFinite float64
	for _, row := range cost {
		for _, c := range row {
			if !forbidden(c) && c > maxFinite {
				maxFinite = c
			}
		}
	}
	big := (maxFinite + 1) * float64(n+1)
	work := make([][]float64, n)
	for i, row := range cost {
		work[i] = make([]float64, m)
		for j, c := range row {
			if forbidden(c) {
				work[i][j] = big
			} else {
				work[i][j] = c
			}
		}
	}

	const inf = math.MaxFloat64 / 4
	u := make([]float64, n+1)
	v := make([]float64, m+1)
	owner := make([]int, m+1) // owner[j] = 1-based row holding column j
	prev := make([]int, m+1)
	slack := make([]float64, m+1)
	seen := make([]bool, m+1)

	for r := 1; r <= n; r++ {
		owner[0] = r
		col := 0
		for j := range slack {
			slack[j] = inf
			seen[j] = false
		}
		for owner[col] != 0 {
			seen[col] = true
			row := owner[col]
			delta, next := inf, 0
			for j := 1; j <= m; j++ {
				if seen[j] {
					continue
				}
				reduced := work[row-1][j-1] - u[row] - v[j]
				if reduced < slack[j] {
					slack[j] = reduced
					prev[j] = col
				}
				if slack[j] < delta {
					delta, next = slack[j], j
				}
			}
			for j := 0; j <= m; j++ {
				if seen[j] {
					u[owner[j]] += delta
					v[j] -= delta
				} else {
					slack[j] -= delta
				}
			}
			col = next
		}
		for col != 0 {
			p := prev[col]
			owner[col] = owner[p]
			col = p
		}
	}

	for j := 1; j <= m; j++ {
		if i := owner[j]; i > 0 && !forbidden(cost[i-1][j-1]) {
			rows[i-1] = j - 1
		}
	}
	return rows
}

func forbidden(c float64) bool {
	return math.IsNaN(c) || math.IsInf(c, 0)
}
