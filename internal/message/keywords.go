// ABOUTME: Keyword extraction for merchant analytics over message text
// ABOUTME: Tokenizes on whitespace/punctuation and filters Arabic+English stopwords

package message

import (
	"strings"
	"unicode"
)

// stopwords covers the high-frequency Arabic and English function words
// that carry no search value for merchants browsing their sessions.
var stopwords = map[string]struct{}{}

func init() {
	for _, w := range []string{
		// English
		"a", "an", "and", "are", "as", "at", "be", "but", "by", "for",
		"if", "in", "into", "is", "it", "no", "not", "of", "on", "or",
		"such", "that", "the", "their", "then", "there", "these", "they",
		"this", "to", "was", "will", "with", "you", "your", "i", "we",
		"me", "my", "do", "does", "can", "could", "have", "has", "had",
		"what", "when", "where", "how", "want", "need", "please",
		// Arabic
		"في", "من", "على", "إلى", "الى", "عن", "مع", "هذا", "هذه", "ذلك",
		"تلك", "هل", "ما", "ماذا", "لا", "نعم", "أن", "ان", "كان", "كانت",
		"هو", "هي", "أنا", "انا", "أنت", "انت", "نحن", "هم", "ثم", "قد",
		"كل", "بعد", "قبل", "عند", "لكن", "و", "أو", "او", "يا", "لو",
		"إذا", "اذا", "كيف", "متى", "أين", "اين", "لماذا", "شكرا", "مرحبا",
	} {
		stopwords[w] = struct{}{}
	}
}

// ExtractKeywords lowercases and tokenizes text, dropping stopwords and
// single-rune tokens. Order of first occurrence is preserved; duplicates
// are removed.
func ExtractKeywords(text string) []string {
	if text == "" {
		return nil
	}

	tokens := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})

	var keywords []string
	seen := make(map[string]struct{}, len(tokens))
	for _, tok := range tokens {
		if len([]rune(tok)) < 2 {
			continue
		}
		if _, skip := stopwords[tok]; skip {
			continue
		}
		if _, dup := seen[tok]; dup {
			continue
		}
		seen[tok] = struct{}{}
		keywords = append(keywords, tok)
	}
	return keywords
}
