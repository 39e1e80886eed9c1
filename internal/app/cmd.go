package app

import "strings"

// Command はアプリケーションの起動モードを表す。
type Command string

const (
	// CommandServe はHTTP APIだけを起動する。
	CommandServe Command = "serve"
	// CommandWorker はNATSコンシューマ、自動レポート、スナップショット更新、クリーンアップを起動する。
	CommandWorker Command = "worker"
	// CommandAll はserveとworkerを1プロセスで起動する。インメモリストアではこれを使う。
	CommandAll Command = "all"
	// CommandMigrate はデータベースマイグレーションを適用して終了する。
	CommandMigrate Command = "migrate"
	// CommandHealthcheck は/healthを叩いて終了する。distroless環境のDockerヘルスチェック用。
	CommandHealthcheck Command = "healthcheck"
)

var knownCommands = map[string]Command{
	string(CommandServe):       CommandServe,
	string(CommandWorker):      CommandWorker,
	string(CommandAll):         CommandAll,
	string(CommandMigrate):     CommandMigrate,
	string(CommandHealthcheck): CommandHealthcheck,
}

// ParseCommand は最初の引数からサブコマンドを解析する。大文字小文字は区別しない。
// 引数が空または未知のコマンドの場合はCommandServeを返す。
func ParseCommand(args []string) Command {
	if len(args) == 0 {
		return CommandServe
	}
	if cmd, ok := knownCommands[strings.ToLower(strings.TrimSpace(args[0]))]; ok {
		return cmd
	}
	return CommandServe
}
