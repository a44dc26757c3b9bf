// Package tokenizer turns package text into index terms. It lower-cases
// input, keeps compound identifiers such as "proc-macro2" together while
// also emitting their parts, removes stop-words from plain words, and can
// optionally apply a suffix stemmer.
package tokenizer

import (
	"strings"
	"unicode"

	"github.com/Adithya-Monish-Kumar-K/pkgsearch/internal/catalog"
	"github.com/Adithya-Monish-Kumar-K/pkgsearch/pkg/config"
)

// Token is a normalised term and its position in the source text. A
// compound and its parts share one position.
type Token struct {
	Term     string
	Position int
}

// FieldToken is a Token tagged with the record field it came from.
type FieldToken struct {
	Field    Field
	Term     string
	Position int
}

// Tokenizer is immutable after construction and safe for concurrent use.
// Index and query paths must share one instance.
type Tokenizer struct {
	joiners   string
	stopWords map[string]struct{}
	minLen    int
	stemming  bool
}

// New builds a Tokenizer from config. An empty joiner set disables compound
// handling.
func New(cfg config.TokenizerConfig) *Tokenizer {
	stop := make(map[string]struct{}, len(cfg.Stopwords))
	for _, w := range cfg.Stopwords {
		stop[strings.ToLower(strings.TrimSpace(w))] = struct{}{}
	}
	return &Tokenizer{
		joiners:   cfg.Joiners,
		stopWords: stop,
		minLen:    max(cfg.MinTokenLen, 1),
		stemming:  cfg.Stemming,
	}
}

// Default returns a Tokenizer with the default configuration.
func Default() *Tokenizer {
	return New(config.Default().Tokenizer)
}

func (t *Tokenizer) isJoiner(r rune) bool {
	return strings.ContainsRune(t.joiners, r)
}

func isAlnum(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

// Tokenize breaks text into tokens. The result is a pure function of text
// and the tokenizer configuration.
func (t *Tokenizer) Tokenize(text string) []Token {
	return t.tokenizeFrom(text, 0)
}

func (t *Tokenizer) tokenizeFrom(text string, pos int) []Token {
	chunks := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !isAlnum(r) && !t.isJoiner(r)
	})
	tokens := make([]Token, 0, len(chunks))
	for _, chunk := range chunks {
		parts := strings.FieldsFunc(chunk, t.isJoiner)
		switch len(parts) {
		case 0:
			continue
		case 1:
			term, ok := t.plainTerm(parts[0])
			if !ok {
				continue
			}
			tokens = append(tokens, Token{Term: term, Position: pos})
		default:
			compound := strings.Join(parts, "-")
			if len(compound) >= t.minLen {
				tokens = append(tokens, Token{Term: compound, Position: pos})
			}
			seen := make(map[string]struct{}, len(parts))
			for _, part := range parts {
				if len(part) < t.minLen {
					continue
				}
				if _, dup := seen[part]; dup {
					continue
				}
				seen[part] = struct{}{}
				tokens = append(tokens, Token{Term: part, Position: pos})
			}
		}
		pos++
	}
	return tokens
}

func (t *Tokenizer) plainTerm(word string) (string, bool) {
	if len(word) < t.minLen {
		return "", false
	}
	if _, isStop := t.stopWords[word]; isStop {
		return "", false
	}
	if t.stemming {
		word = stem(word)
	}
	return word, word != ""
}

// TokenizeRecord tokenizes every indexed field of rec. Keywords are indexed
// as one stream with positions running on from keyword to keyword.
func (t *Tokenizer) TokenizeRecord(rec *catalog.PackageRecord) []FieldToken {
	var out []FieldToken
	add := func(f Field, toks []Token) {
		for _, tok := range toks {
			out = append(out, FieldToken{Field: f, Term: tok.Term, Position: tok.Position})
		}
	}
	add(FieldName, t.Tokenize(rec.ID))

	pos := 0
	for _, kw := range rec.Keywords {
		toks := t.tokenizeFrom(kw, pos)
		if n := len(toks); n > 0 {
			pos = toks[n-1].Position + 1
		}
		add(FieldKeywords, toks)
	}
	add(FieldDescription, t.Tokenize(rec.Description))
	add(FieldReadme, t.Tokenize(rec.ReadmeExcerpt))
	return out
}
