package sned

import (
	"encoding/json"
	"strings"
)

// ParseAddressList splits free-form user input into address candidates.
//
// The first rule that applies wins:
//  1. the input is a JSON array of strings
//  2. the input contains a comma: split on ","
//  3. the input contains a newline: split on "\n"
//  4. the input contains a carriage return: split on "\r"
//  5. the whole input is a single candidate
//
// Candidates are trimmed and empty ones dropped. Order and duplicates are
// preserved and no address validation happens here.
func ParseAddressList(ids string) []string {
	var arr []string
	if err := json.Unmarshal([]byte(ids), &arr); err == nil && arr != nil {
		return clean(arr)
	}

	switch {
	case strings.Contains(ids, ","):
		return clean(strings.Split(ids, ","))
	case strings.Contains(ids, "\n"):
		return clean(strings.Split(ids, "\n"))
	case strings.Contains(ids, "\r"):
		return clean(strings.Split(ids, "\r"))
	default:
		return clean([]string{ids})
	}
}

func clean(parts []string) []string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
