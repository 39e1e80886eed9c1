package tokenize

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"

	"gopkg.in/yaml.v3"
)

// defaultStopWords は組み込みのトルコ語ストップワード。
var defaultStopWords = []string{
	"acaba", "ama", "aslında", "az", "bazı", "belki", "biri", "birkaç", "birşey",
	"biz", "bu", "çok", "çünkü", "da", "daha", "de", "defa", "diye", "eğer",
	"en", "gibi", "her", "için", "ile", "ise", "kez", "ki", "kim", "mı", "mu",
	"mü", "nasıl", "ne", "neden", "nerde", "nerede", "nereye", "niçin", "niye",
	"o", "sanki", "şey", "siz", "şu", "tüm", "ve", "veya", "ya", "yani",
}

// DefaultStopWords は組み込みのストップワードのコピーを返す。
func DefaultStopWords() []string {
	return slices.Clone(defaultStopWords)
}

// stopWordsFile はストップワードファイルのYAML構造。
type stopWordsFile struct {
	Language string   `yaml:"language"`
	Words    []string `yaml:"words"`
}

// LoadStopWords はYAMLファイルからストップワードを読み込む。
// ファイルが存在しない場合は組み込みのリストを返し、persistが真ならファイルに保存する。
// 読み込みや解析に失敗しても処理は継続し、警告を出力して組み込みのリストを返す。
func LoadStopWords(path string, persist bool, logger *slog.Logger) []string {
	if path == "" {
		return DefaultStopWords()
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		logger.Info("ストップワードファイルが見つからないため組み込みのリストを使用します",
			slog.String("path", path),
		)
		if persist {
			if err := SaveStopWords(path, defaultStopWords); err != nil {
				logger.Warn("ストップワードファイルの保存に失敗しました",
					slog.String("path", path),
					slog.String("error", err.Error()),
				)
			}
		}
		return DefaultStopWords()
	}
	if err != nil {
		logger.Warn("ストップワードファイルの読み込みに失敗しました",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		return DefaultStopWords()
	}

	list, err := parseStopWords(data)
	if err != nil {
		logger.Warn("ストップワードファイルの解析に失敗しました",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		return DefaultStopWords()
	}

	logger.Info("ストップワードを読み込みました",
		slog.String("path", path),
		slog.Int("count", len(list)),
	)
	return list
}

// parseStopWords はストップワードのYAMLを解析する。
// words キーを持つマッピングと、文字列のシーケンスの両方を受け付ける。
func parseStopWords(data []byte) ([]string, error) {
	var file stopWordsFile
	if err := yaml.Unmarshal(data, &file); err == nil && len(file.Words) > 0 {
		return file.Words, nil
	}

	var list []string
	if err := yaml.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("failed to parse stop words: %w", err)
	}
	if len(list) == 0 {
		return nil, errors.New("stop word list is empty")
	}
	return list, nil
}

// SaveStopWords はストップワードをYAMLファイルに保存する。
func SaveStopWords(path string, list []string) error {
	data, err := yaml.Marshal(stopWordsFile{Language: "tr", Words: list})
	if err != nil {
		return fmt.Errorf("failed to marshal stop words: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create stop word directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write stop words: %w", err)
	}
	return nil
}
