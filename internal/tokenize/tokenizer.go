// Package tokenize はメッセージ本文から単語・ハッシュタグ・メンション・絵文字を抽出する。
//
// Tokenizer は構築後に状態を変更しないため、複数のゴルーチンから同時に使用できる。
// 同じ入力と設定に対して常に同じ結果を返す。
package tokenize

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/clipperhouse/uax29/v2/words"
	"github.com/forPelevin/gomoji"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"

	"github.com/hitoshi/trendbot/internal/model"
)

var (
	hashtagPattern = regexp.MustCompile(`#[\p{L}\p{N}_]+`)
	mentionPattern = regexp.MustCompile(`@[\p{L}\p{N}_]+`)
)

// Options はスコープ設定から導かれる抽出オプション。
type Options struct {
	MinWordLength int  // この文字数以下の単語は除外する
	ExcludeCommon bool // ストップワードを除外する
}

// OptionsFrom はスコープ設定から抽出オプションを生成する。
func OptionsFrom(s model.ScopeSettings) Options {
	return Options{
		MinWordLength: s.MinWordLength,
		ExcludeCommon: s.ExcludeCommon,
	}
}

// DefaultOptions は既定のスコープ設定に対応する抽出オプションを返す。
func DefaultOptions() Options {
	return OptionsFrom(model.DefaultScopeSettings(model.GlobalScope))
}

// Tokenizer はストップワード集合を保持し、メッセージからトークンを抽出する。
type Tokenizer struct {
	stopWords map[string]struct{}
}

// New は指定されたストップワードで Tokenizer を生成する。
// ストップワードは抽出時と同じ規則で正規化される。
func New(stopWords []string) *Tokenizer {
	set := make(map[string]struct{}, len(stopWords))
	for _, w := range stopWords {
		w = Normalize(w)
		if w != "" {
			set[w] = struct{}{}
		}
	}
	return &Tokenizer{stopWords: set}
}

// NewDefault は組み込みのトルコ語ストップワードで Tokenizer を生成する。
func NewDefault() *Tokenizer {
	return New(DefaultStopWords())
}

// IsStopWord は正規化済みの単語がストップワードかどうかを返す。
func (t *Tokenizer) IsStopWord(word string) bool {
	_, ok := t.stopWords[word]
	return ok
}

// StopWordCount は保持しているストップワードの数を返す。
func (t *Tokenizer) StopWordCount() int {
	return len(t.stopWords)
}

// Extract はテキストから分類済みトークンを抽出する。
// 同じトークンの複数回の出現は重複を除かずにそのまま返す。
func (t *Tokenizer) Extract(text string, opts Options) model.Tokens {
	text = norm.NFC.String(text)

	tokens := model.Tokens{
		Words:    []string{},
		Hashtags: extractPrefixed(hashtagPattern, text),
		Mentions: extractPrefixed(mentionPattern, text),
		Emoji:    extractEmoji(text),
	}

	rest := hashtagPattern.ReplaceAllString(text, " ")
	rest = mentionPattern.ReplaceAllString(rest, " ")
	rest = gomoji.RemoveEmojis(rest)
	rest = Normalize(stripPunctuation(rest))

	seg := words.FromString(rest)
	for seg.Next() {
		w := seg.Value()
		if !t.keepWord(w, opts) {
			continue
		}
		tokens.Words = append(tokens.Words, w)
	}
	return tokens
}

func (t *Tokenizer) keepWord(w string, opts Options) bool {
	if utf8.RuneCountInString(w) <= opts.MinWordLength {
		return false
	}
	hasLetter := false
	numeric := true
	for _, r := range w {
		switch {
		case unicode.IsLetter(r):
			hasLetter = true
			numeric = false
		case unicode.IsDigit(r), unicode.Is(unicode.Mn, r):
		case r == '_':
			numeric = false
		default:
			// 空白や区切りだけのセグメント
			return false
		}
	}
	if numeric || !hasLetter {
		return false
	}
	if opts.ExcludeCommon && t.IsStopWord(w) {
		return false
	}
	return true
}

// Normalize はトルコ語の規則で小文字化し、NFC正規化した文字列を返す。
// "İ" は "i"、"I" は "ı" になる。
func Normalize(s string) string {
	// cases.Caser はゴルーチン間で共有できないため呼び出しごとに生成する
	lower := cases.Lower(language.Turkish).String(s)
	return norm.NFC.String(strings.TrimSpace(lower))
}

func extractPrefixed(pattern *regexp.Regexp, text string) []string {
	matches := pattern.FindAllString(text, -1)
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		// 先頭の # または @ は1バイト
		if token := Normalize(m[1:]); token != "" {
			out = append(out, token)
		}
	}
	return out
}

func extractEmoji(text string) []string {
	found := gomoji.CollectAll(text)
	out := make([]string, 0, len(found))
	for _, e := range found {
		out = append(out, e.Character)
	}
	return out
}

// stripPunctuation は文字・数字・結合文字・アンダースコア以外を空白に置き換える。
func stripPunctuation(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r), unicode.Is(unicode.Mn, r), r == '_':
			return r
		default:
			return ' '
		}
	}, s)
}
