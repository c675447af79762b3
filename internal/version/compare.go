package version

import (
	"strconv"
	"strings"

	"golang.org/x/mod/semver"
)

// Compare 比较两个纯版本号（例如 20.1.0），返回 -1、0 或 1。
func Compare(a, b string) int {
	return semver.Compare(canonical(a), canonical(b))
}

// IsValidNumber 报告 number 是否为 MAJOR.MINOR.PATCH 形式的正式版本号。
func IsValidNumber(number string) bool {
	c := canonical(number)
	return semver.IsValid(c) && semver.Prerelease(c) == "" && strings.Count(number, ".") == 2
}

func canonical(number string) string {
	return "v" + strings.TrimPrefix(strings.TrimSpace(number), "v")
}

func splitNumber(number string) (major, minor, patch int, ok bool) {
	parts := strings.Split(strings.TrimPrefix(number, "v"), ".")
	if len(parts) != 3 {
		return 0, 0, 0, false
	}
	var vals [3]int
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return 0, 0, 0, false
		}
		vals[i] = n
	}
	return vals[0], vals[1], vals[2], true
}
