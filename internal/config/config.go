// Package config は環境変数から設定を読み込み、アプリケーション全体で使用する設定を提供します。
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config はアプリケーションの設定を保持する構造体です。
type Config struct {
	// サーバー設定
	Port          string // APIサーバーのポート番号
	GinMode       string // Ginの実行モード (debug, release, test)
	SessionSecret string // セッション署名用の秘密鍵

	// CORS設定
	CORSAllowedOrigins string // CORS許可オリジン（カンマ区切り）

	// ディレクトリ設定
	DataDir string // uploads / temp / outputs を配置するルート

	// アップロード制限
	MaxUploadBytes    int64    // 単一アーカイブの最大サイズ（バイト）
	AllowedExtensions []string // 受け付けるアーカイブ拡張子（小文字・ドットなし）

	// 展開設定
	MaxExtractDepth int    // ネストしたアーカイブの最大展開深度
	ZipNameEncoding string // UTF-8フラグのないZIPエントリ名の文字コード (none, gb18030, shift_jis)

	// 画像・PDF設定
	PageSize         string // PDFのページサイズ (A4, Letter)
	MaxImageWidth    int    // 画像の最大幅（ピクセル）
	MaxImageHeight   int    // 画像の最大高さ（ピクセル）
	ImageWorkers     int    // 画像正規化の並列数
	OptimizePDF      bool   // 生成したPDFをpdfcpuで最適化するか
	DocumentBaseName string // 生成PDFのファイル名の接頭辞

	// ジョブ/キュー設定
	MaxConcurrentTasks int    // プロセス内で同時に実行するタスク数（0は無制限）
	QueueRedisURL      string // Asynq/タスクストア用Redis接続URL（空ならプロセス内実行）
	QueueConcurrency   int    // Asynqワーカーの並列数
	TaskTTLMinutes     int    // Redis上のタスクレコードの有効期限（分）

	// クリーンアップ設定
	CleanupSchedule string        // 定期クリーンアップのcron式
	UploadRetention time.Duration // アップロードファイルの保持期間
	TempRetention   time.Duration // 作業ディレクトリの保持期間
	OutputRetention time.Duration // 成果物の保持期間

	// リモートアルバム取得設定
	AlbumBaseURL     string        // アルバムAPIのベースURL
	FetchRetries     int           // 画像取得のリトライ回数
	FetchBackoff     time.Duration // リトライ間隔の単位（試行回数に比例して増加）
	FetchConcurrency int           // 画像取得の並列数

	// ログ設定
	LogLevel  string // debug, info, warn, error
	LogFormat string // console または json
}

// Load は環境変数から設定を読み込みます。
// .env.local ファイルが存在する場合はそこから読み込みます。
func Load() (*Config, error) {
	// .env.local ファイルを読み込む（存在しない場合はスキップ）
	loadEnvFile()

	config := &Config{
		Port:          getEnv("PORT", "8080"),
		GinMode:       getEnv("GIN_MODE", "debug"),
		SessionSecret: getEnv("SESSION_SECRET", ""),

		CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:5173"),

		DataDir: getEnv("DATA_DIR", "./data"),

		MaxUploadBytes:    getEnvAsInt64("MAX_UPLOAD_BYTES", 1<<30), // 1GB
		AllowedExtensions: getEnvAsList("ALLOWED_EXTENSIONS", []string{"zip", "tar", "gz", "tgz", "bz2", "xz", "rar", "7z", "cbz"}),

		MaxExtractDepth: getEnvAsInt("MAX_EXTRACT_DEPTH", 10),
		ZipNameEncoding: getEnv("ZIP_NAME_ENCODING", "gb18030"),

		PageSize:         getEnv("PAGE_SIZE", "A4"),
		MaxImageWidth:    getEnvAsInt("MAX_IMAGE_WIDTH", 2480),
		MaxImageHeight:   getEnvAsInt("MAX_IMAGE_HEIGHT", 3508),
		ImageWorkers:     getEnvAsInt("IMAGE_WORKERS", 4),
		OptimizePDF:      getEnvAsBool("OPTIMIZE_PDF", false),
		DocumentBaseName: getEnv("DOCUMENT_BASE_NAME", "converted"),

		MaxConcurrentTasks: getEnvAsInt("MAX_CONCURRENT_TASKS", 0),
		QueueRedisURL:      getEnv("QUEUE_REDIS_URL", ""),
		QueueConcurrency:   getEnvAsInt("QUEUE_CONCURRENCY", 4),
		TaskTTLMinutes:     getEnvAsInt("TASK_TTL_MINUTES", 48*60),

		CleanupSchedule: getEnv("CLEANUP_SCHEDULE", "@every 1h"),
		UploadRetention: getEnvAsDuration("UPLOAD_RETENTION", 24*time.Hour),
		TempRetention:   getEnvAsDuration("TEMP_RETENTION", 12*time.Hour),
		OutputRetention: getEnvAsDuration("OUTPUT_RETENTION", 48*time.Hour),

		AlbumBaseURL:     getEnv("ALBUM_BASE_URL", ""),
		FetchRetries:     getEnvAsInt("FETCH_RETRIES", 3),
		FetchBackoff:     getEnvAsDuration("FETCH_BACKOFF", 2*time.Second),
		FetchConcurrency: getEnvAsInt("FETCH_CONCURRENCY", 3),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "console"),
	}

	// 必須設定のバリデーション
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func loadEnvFile() {
	if err := godotenv.Load(".env.local"); err == nil {
		return
	}

	cwd, err := os.Getwd()
	if err != nil {
		return
	}

	parent := filepath.Dir(cwd)
	if parent == "" || parent == cwd {
		return
	}

	_ = godotenv.Load(filepath.Join(parent, ".env.local"))
}

// Validate は設定の妥当性を検証します。
func (c *Config) Validate() error {
	if c.GinMode == "release" && c.SessionSecret == "" {
		return fmt.Errorf("SESSION_SECRET is required in release mode")
	}
	if c.DataDir == "" {
		return fmt.Errorf("DATA_DIR must not be empty")
	}
	if c.MaxExtractDepth < 0 {
		return fmt.Errorf("MAX_EXTRACT_DEPTH must be >= 0 (got %d)", c.MaxExtractDepth)
	}
	if c.MaxImageWidth <= 0 || c.MaxImageHeight <= 0 {
		return fmt.Errorf("MAX_IMAGE_WIDTH and MAX_IMAGE_HEIGHT must be positive")
	}
	switch strings.ToLower(c.PageSize) {
	case "a4", "letter":
	default:
		return fmt.Errorf("PAGE_SIZE must be A4 or Letter (got %s)", c.PageSize)
	}
	switch strings.ToLower(c.ZipNameEncoding) {
	case "", "none", "gb18030", "shift_jis":
	default:
		return fmt.Errorf("ZIP_NAME_ENCODING must be none, gb18030 or shift_jis (got %s)", c.ZipNameEncoding)
	}
	return nil
}

// SessionKey はセッションクッキーの署名鍵を返します。
// 開発環境では未設定でも起動できるよう固定値を使います。
func (c *Config) SessionKey() []byte {
	if c.SessionSecret == "" {
		return []byte("archive-forge-dev-session-secret")
	}
	return []byte(c.SessionSecret)
}

// getEnv は環境変数を取得し、存在しない場合はデフォルト値を返します。
func getEnv(key string, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvAsInt は環境変数を整数として取得します。
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsInt64 は環境変数を64ビット整数として取得します。
func getEnvAsInt64(key string, defaultValue int64) int64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseInt(valueStr, 10, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsBool は環境変数を真偽値として取得します。
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration は環境変数を time.Duration として取得します（例: 90s, 12h）。
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsList はカンマ区切りの環境変数を小文字のスライスとして取得します。
func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var values []string
	for _, v := range strings.Split(valueStr, ",") {
		v = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(v), ".")))
		if v != "" {
			values = append(values, v)
		}
	}
	if len(values) == 0 {
		return defaultValue
	}
	return values
}
