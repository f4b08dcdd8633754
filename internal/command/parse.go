package command

import (
	"math"
	"strconv"
	"strings"
	"unicode"

	"minikv/internal/store"
)

// Tokenize splits a command line on whitespace. A double-quoted run forms
// one token with the quotes removed, so `""` yields an empty token. An
// unterminated quote extends to the end of the line.
func Tokenize(line string) []string {
	var tokens []string
	var tok strings.Builder
	inQuotes := false

	for _, r := range line {
		switch {
		case r == '"':
			inQuotes = !inQuotes
			if !inQuotes {
				tokens = append(tokens, tok.String())
				tok.Reset()
			}
		case unicode.IsSpace(r) && !inQuotes:
			if tok.Len() > 0 {
				tokens = append(tokens, tok.String())
				tok.Reset()
			}
		default:
			tok.WriteRune(r)
		}
	}
	if tok.Len() > 0 {
		tokens = append(tokens, tok.String())
	}
	return tokens
}

// ParseValue infers the stored type of a token: integer, then finite
// float, then a true/false literal, else the raw string.
func ParseValue(token string) store.Value {
	if i, err := strconv.ParseInt(token, 10, 64); err == nil {
		return store.Int(i)
	}
	if f, err := strconv.ParseFloat(token, 64); err == nil && !math.IsInf(f, 0) && !math.IsNaN(f) {
		return store.Float(f)
	}
	switch token {
	case "true", "TRUE":
		return store.Bool(true)
	case "false", "FALSE":
		return store.Bool(false)
	}
	return store.String(token)
}

// IsQuit reports whether line asks the transport to end the connection.
func IsQuit(line string) bool {
	tokens := Tokenize(line)
	if len(tokens) != 1 {
		return false
	}
	switch strings.ToUpper(tokens[0]) {
	case "QUIT", "EXIT":
		return true
	}
	return false
}
