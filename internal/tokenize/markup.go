package tokenize

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// MarkupStripper はHTML形式のメッセージからタグを取り除き、プレーンテキストにする。
// bluemondayのポリシーはスレッドセーフなため共有して使用できる。
type MarkupStripper struct {
	policy *bluemonday.Policy
}

// NewMarkupStripper は全タグを除去するストリクトポリシーでMarkupStripperを生成する。
func NewMarkupStripper() *MarkupStripper {
	return &MarkupStripper{policy: bluemonday.StrictPolicy()}
}

// Strip はタグを除去し、文字参照をデコードしたテキストを返す。
// ブロック要素や改行タグは単語が連結しないよう空白に置き換える。
func (s *MarkupStripper) Strip(raw string) string {
	if raw == "" {
		return ""
	}
	spaced := blockTagReplacer.Replace(raw)
	return html.UnescapeString(s.policy.Sanitize(spaced))
}

var blockTagReplacer = strings.NewReplacer(
	"<br>", " <br>",
	"<br/>", " <br/>",
	"<br />", " <br />",
	"</p>", "</p> ",
	"</div>", "</div> ",
	"</li>", "</li> ",
)
