package tokenize

import (
	"reflect"
	"sync"
	"testing"
)

func TestExtract_Scenario(t *testing.T) {
	tok := NewDefault()

	got := tok.Extract("Bugün #deprem oldu @afad yardım edin 😢", DefaultOptions())

	if want := []string{"deprem"}; !reflect.DeepEqual(got.Hashtags, want) {
		t.Errorf("Hashtags = %v, want %v", got.Hashtags, want)
	}
	if want := []string{"afad"}; !reflect.DeepEqual(got.Mentions, want) {
		t.Errorf("Mentions = %v, want %v", got.Mentions, want)
	}
	if want := []string{"😢"}; !reflect.DeepEqual(got.Emoji, want) {
		t.Errorf("Emoji = %v, want %v", got.Emoji, want)
	}
	if want := []string{"bugün", "oldu", "yardım", "edin"}; !reflect.DeepEqual(got.Words, want) {
		t.Errorf("Words = %v, want %v", got.Words, want)
	}
}

func TestExtract_StopWords(t *testing.T) {
	tok := New([]string{"ve", "bu", "çok"})

	got := tok.Extract("ve bu çok güzel", Options{MinWordLength: 3, ExcludeCommon: true})

	if want := []string{"güzel"}; !reflect.DeepEqual(got.Words, want) {
		t.Errorf("Words = %v, want %v", got.Words, want)
	}
}

func TestExtract_ExcludeCommonDisabled(t *testing.T) {
	tok := NewDefault()

	got := tok.Extract("daha güzel", Options{MinWordLength: 3, ExcludeCommon: false})

	if want := []string{"daha", "güzel"}; !reflect.DeepEqual(got.Words, want) {
		t.Errorf("Words = %v, want %v", got.Words, want)
	}
}

func TestExtract_Words(t *testing.T) {
	tok := NewDefault()

	tests := []struct {
		name string
		text string
		opts Options
		want []string
	}{
		{
			name: "句読点は区切りとして扱う",
			text: "Merhaba, dünya!",
			opts: DefaultOptions(),
			want: []string{"merhaba", "dünya"},
		},
		{
			name: "トルコ語の大文字は正しく小文字化される",
			text: "İSTANBUL IŞIK",
			opts: DefaultOptions(),
			want: []string{"istanbul", "ışık"},
		},
		{
			name: "数字のみの単語は除外される",
			text: "2024 yılı 12345",
			opts: DefaultOptions(),
			want: []string{"yılı"},
		},
		{
			name: "最小文字数以下の単語は除外される",
			text: "kedi köpek at",
			opts: Options{MinWordLength: 4},
			want: []string{"köpek"},
		},
		{
			name: "同じ単語の複数回の出現を保持する",
			text: "selam selam selam",
			opts: DefaultOptions(),
			want: []string{"selam", "selam", "selam"},
		},
		{
			name: "空文字列からは何も抽出しない",
			text: "",
			opts: DefaultOptions(),
			want: []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tok.Extract(tt.text, tt.opts)
			if !reflect.DeepEqual(got.Words, tt.want) {
				t.Errorf("Words = %v, want %v", got.Words, tt.want)
			}
		})
	}
}

func TestExtract_HashtagsAndMentions(t *testing.T) {
	tok := NewDefault()

	got := tok.Extract("#Deprem #deprem @AFAD_Türkiye ile", DefaultOptions())

	if want := []string{"deprem", "deprem"}; !reflect.DeepEqual(got.Hashtags, want) {
		t.Errorf("Hashtags = %v, want %v", got.Hashtags, want)
	}
	if want := []string{"afad_türkiye"}; !reflect.DeepEqual(got.Mentions, want) {
		t.Errorf("Mentions = %v, want %v", got.Mentions, want)
	}
	if len(got.Words) != 0 {
		t.Errorf("Words = %v, want empty (ハッシュタグとメンションは単語に含めない)", got.Words)
	}
}

func TestExtract_EmojiNotDeduplicated(t *testing.T) {
	tok := NewDefault()

	got := tok.Extract("harika 😀😀 🎉", DefaultOptions())

	if want := []string{"😀", "😀", "🎉"}; !reflect.DeepEqual(got.Emoji, want) {
		t.Errorf("Emoji = %v, want %v", got.Emoji, want)
	}
	if want := []string{"harika"}; !reflect.DeepEqual(got.Words, want) {
		t.Errorf("Words = %v, want %v", got.Words, want)
	}
}

func TestExtract_Deterministic(t *testing.T) {
	tok := NewDefault()
	text := "Bugün #deprem oldu @afad yardım edin 😢 yardım"

	first := tok.Extract(text, DefaultOptions())
	for i := 0; i < 20; i++ {
		if got := tok.Extract(text, DefaultOptions()); !reflect.DeepEqual(got, first) {
			t.Fatalf("Extract の結果が呼び出しごとに異なる: %v != %v", got, first)
		}
	}
}

func TestExtract_ConcurrentUse(t *testing.T) {
	tok := NewDefault()
	want := tok.Extract("İstanbul'da #bayram coşkusu 🎉", DefaultOptions())

	var wg sync.WaitGroup
	errs := make(chan string, 50)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got := tok.Extract("İstanbul'da #bayram coşkusu 🎉", DefaultOptions())
			if !reflect.DeepEqual(got, want) {
				errs <- "並行実行で結果が異なる"
			}
		}()
	}
	wg.Wait()
	close(errs)
	for e := range errs {
		t.Error(e)
	}
}

func TestNew_NormalizesStopWords(t *testing.T) {
	tok := New([]string{"  VE ", "İÇİN", ""})

	if !tok.IsStopWord("ve") {
		t.Error(`"ve" がストップワードとして登録されていない`)
	}
	if !tok.IsStopWord("için") {
		t.Error(`"için" がストップワードとして登録されていない`)
	}
	if tok.StopWordCount() != 2 {
		t.Errorf("StopWordCount() = %d, want 2", tok.StopWordCount())
	}
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Merhaba", "merhaba"},
		{"İzmir", "izmir"},
		{"ISPARTA", "ısparta"},
		{"  Çağrı ", "çağrı"},
	}
	for _, tt := range tests {
		if got := Normalize(tt.in); got != tt.want {
			t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
