package app

import "fmt"

// Command はサブコマンドを表す。
type Command string

const (
	// CommandServe はAPIサーバーを起動する。
	CommandServe Command = "serve"
	// CommandWorker はリマインダー・期限超過・保守のバックグラウンドジョブを起動する。
	CommandWorker Command = "worker"
	// CommandMigrate はデータベースマイグレーションを適用する。
	CommandMigrate Command = "migrate"
	// CommandHealthcheck はサーバーの疎通を確認する。コンテナのヘルスチェック用。
	CommandHealthcheck Command = "healthcheck"
)

// ParseCommand は引数からサブコマンドを解決する。引数なしはserveを返す。
func ParseCommand(args []string) (Command, error) {
	if len(args) == 0 {
		return CommandServe, nil
	}
	switch Command(args[0]) {
	case CommandServe, CommandWorker, CommandMigrate, CommandHealthcheck:
		return Command(args[0]), nil
	default:
		return "", fmt.Errorf("unknown command: %s (expected serve, worker, migrate or healthcheck)", args[0])
	}
}
