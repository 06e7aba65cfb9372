// Package detail encodes and parses the flattened item list stored with every
// sale, e.g. "Coffee(3), Croissant(1)".
package detail

import (
	"strconv"
	"strings"
)

const separator = ", "

type Item struct {
	Name     string
	Quantity int
}

func Encode(items []Item) string {
	tokens := make([]string, 0, len(items))
	for _, item := range items {
		tokens = append(tokens, item.Name+"("+strconv.Itoa(item.Quantity)+")")
	}
	return strings.Join(tokens, separator)
}

// Parse reads an encoded detail string. Tokens that cannot be read are
// skipped. The older "name:qty|name:qty" form is accepted too.
func Parse(raw string) []Item {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	if !strings.Contains(raw, "(") && strings.Contains(raw, ":") {
		return parseLegacy(raw)
	}

	items := make([]Item, 0, strings.Count(raw, ",")+1)
	for _, token := range strings.Split(raw, ",") {
		item, ok := parseToken(token)
		if !ok {
			continue
		}
		items = append(items, item)
	}
	return items
}

func parseToken(token string) (Item, bool) {
	token = strings.TrimSpace(token)
	if !strings.HasSuffix(token, ")") {
		return Item{}, false
	}
	open := strings.LastIndex(token, "(")
	if open < 1 {
		return Item{}, false
	}
	qty, err := strconv.Atoi(strings.TrimSpace(token[open+1 : len(token)-1]))
	if err != nil || qty < 1 {
		return Item{}, false
	}
	name := strings.TrimSpace(token[:open])
	if name == "" {
		return Item{}, false
	}
	return Item{Name: name, Quantity: qty}, true
}

func parseLegacy(raw string) []Item {
	items := make([]Item, 0, strings.Count(raw, "|")+1)
	for _, token := range strings.Split(raw, "|") {
		idx := strings.LastIndex(token, ":")
		if idx < 1 {
			continue
		}
		qty, err := strconv.Atoi(strings.TrimSpace(token[idx+1:]))
		if err != nil || qty < 1 {
			continue
		}
		name := strings.TrimSpace(token[:idx])
		if name == "" {
			continue
		}
		items = append(items, Item{Name: name, Quantity: qty})
	}
	return items
}

// Safe reports whether name survives an Encode/Parse round trip.
func Safe(name string) bool {
	trimmed := strings.TrimSpace(name)
	return trimmed != "" && trimmed == name && !strings.ContainsAny(name, ",()|:")
}
