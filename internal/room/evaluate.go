package room

import (
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/lvdashuaibi/littlepoker/internal/model"
)

// ParseDeckNumber 把牌面解析为数值。逗号按小数点处理（牌组里的"0,5"即0.5），
// "?"、休息符号等非数值牌面返回false，不参与中位数计算。
func ParseDeckNumber(label string) (float64, bool) {
	n, err := strconv.ParseFloat(strings.ReplaceAll(label, ",", "."), 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// Unanimous 判断是否全员一致：集合非空且所有票面文本相同。
// 空集合永远返回false，不存在"空集一致"。
func Unanimous(rows []model.VoteRow) bool {
	if len(rows) == 0 {
		return false
	}
	first := rows[0].Value
	for _, r := range rows[1:] {
		if r.Value != first {
			return false
		}
	}
	return true
}

// Median 标准中位数：偶数个取中间两值的平均。空集返回false
func Median(nums []float64) (float64, bool) {
	if len(nums) == 0 {
		return 0, false
	}
	sorted := make([]float64, len(nums))
	copy(sorted, nums)
	sort.Float64s(sorted)

	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid], true
	}
	return (sorted[mid-1] + sorted[mid]) / 2, true
}

// ClosestToMedian 返回与中位数绝对距离最小的玩家，允许并列
func ClosestToMedian(rows []model.VoteRow, median float64) []string {
	best := math.Inf(1)
	var ids []string
	for _, r := range rows {
		n, ok := ParseDeckNumber(r.Value)
		if !ok {
			continue
		}
		d := math.Abs(n - median)
		switch {
		case d < best:
			best = d
			ids = []string{r.PlayerID}
		case d == best:
			ids = append(ids, r.PlayerID)
		}
	}
	return ids
}

// Evaluate 对一轮亮牌的票面集合做完整评估。
// rows必须已经排除观察者（包括角色切换残留的观察者票）。
func Evaluate(roomKey string, round int, rows []model.VoteRow) model.RevealResult {
	result := model.RevealResult{
		RoomKey:   roomKey,
		Round:     round,
		Unanimous: Unanimous(rows),
		Votes:     rows,
	}

	var nums []float64
	for _, r := range rows {
		if n, ok := ParseDeckNumber(r.Value); ok {
			nums = append(nums, n)
		}
	}
	if median, ok := Median(nums); ok {
		result.HasMedian = true
		result.Median = median
		result.ClosestIDs = ClosestToMedian(rows, median)
	}
	return result
}
