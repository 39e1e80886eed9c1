package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/net/netutil"
	"golang.org/x/sync/errgroup"

	"github.com/hitoshi/trendbot/internal/config"
	"github.com/hitoshi/trendbot/internal/database"
	"github.com/hitoshi/trendbot/internal/logger"
)

// shutdownTimeout はグレースフルシャットダウンの最大待ち時間。
const shutdownTimeout = 30 * time.Second

// Init はアプリケーションの初期化を行う。
// .envと環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, slog.LevelInfo)

	// 2. .envと環境変数から設定を読み込む
	if err := config.LoadDotEnv(); err != nil {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. 設定されたログレベルで再セットアップ
	logger.SetupDefault(w, logger.ParseLevel(cfg.LogLevel))

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("store", cfg.StoreBackend),
		slog.String("timezone", cfg.Timezone),
	)

	if cmd == CommandMigrate {
		return runMigrate(cfg)
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return run(ctx, cfg, cmd)
}

// run はserve/worker/allの各モードで依存関係をワイヤリングして起動する。
// serveはHTTP API、workerはNATSコンシューマと定期ジョブを動かし、allは両方を1プロセスで動かす。
// ctxがキャンセルされるとHTTPサーバー、コンシューマ、取り込みの順に停止する。
func run(ctx context.Context, cfg *config.Config, cmd Command) error {
	withHTTP := cmd == CommandServe || cmd == CommandAll
	withWorker := cmd == CommandWorker || cmd == CommandAll

	if cmd == CommandWorker && cfg.StoreBackend == config.StoreBackendMemory {
		return errors.New("worker requires the postgres store; use the all command with the memory store")
	}
	if cmd == CommandServe && cfg.StoreBackend == config.StoreBackendMemory {
		slog.Warn("インメモリストアのserveモードでは自動レポートと定期ジョブが動きません。allコマンドを使用してください")
	}

	// 1. ストアとドメインサービス
	st, err := openStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	log := slog.Default()
	svc := newServices(cfg, st, log)

	// 2. ワーカー側の依存関係（起動前に接続エラーを検出する）
	var w *worker
	if withWorker {
		w, err = newWorker(cfg, st, svc, log)
		if err != nil {
			return err
		}
		defer w.nc.Close()
	}

	// 3. HTTPサーバー（ポートの競合は起動前に検出する）
	var server *http.Server
	var listener net.Listener
	if withHTTP {
		limiter, router := newRouter(cfg, st, svc, log)
		defer limiter.Stop()

		server = &http.Server{
			Addr:         ":" + cfg.ServerPort,
			Handler:      router,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		}
		listener, err = listen(server.Addr, cfg.HTTPMaxConnections)
		if err != nil {
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	// 4. コンシューマと定期ジョブ
	if withWorker {
		if err := w.start(gctx, g, cfg); err != nil {
			if listener != nil {
				listener.Close()
			}
			return err
		}
	}

	if withHTTP {
		g.Go(func() error {
			slog.Info("API server starting",
				slog.String("addr", server.Addr),
				slog.Int("max_connections", cfg.HTTPMaxConnections),
			)
			if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server listen error: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			slog.Info("shutting down API server...")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("server shutdown failed: %w", err)
			}
			slog.Info("API server stopped gracefully")
			return nil
		})
	}

	runErr := g.Wait()

	// 5. 取り込み経路を閉じてから保留中の処理を待つ
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var errs []error
	if runErr != nil {
		errs = append(errs, runErr)
	}
	if withWorker {
		if err := w.consumer.Stop(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("consumer stop failed: %w", err))
		}
	}
	if err := svc.ingestor.Close(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("ingestor close failed: %w", err))
	}
	if withWorker {
		if err := w.nc.Drain(); err != nil {
			errs = append(errs, fmt.Errorf("nats drain failed: %w", err))
		}
	}

	slog.Info("application stopped", slog.String("command", string(cmd)))
	return errors.Join(errs...)
}

// listen はaddrでTCPリスナーを開く。maxConnsが正の場合は同時接続数を制限する。
func listen(addr string, maxConns int) (net.Listener, error) {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	if maxConns > 0 {
		l = netutil.LimitListener(l, maxConns)
	}
	return l, nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	if cfg.StoreBackend == config.StoreBackendMemory {
		slog.Info("インメモリストアのためマイグレーションをスキップします")
		return nil
	}

	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
