package i18n

import (
	"reflect"
	"sync"
)

// Language type
type Language string

const (
	LangEN Language = "en"
	LangZH Language = "zh"
)

// Messages holds all translatable strings
type Messages struct {
	// System
	Starting           string
	ConfigLoaded       string
	UsingDBPath        string
	ServerListening    string
	ShuttingDown       string
	DryRunMode         string
	ConfigLoadFailed   string
	DBInitFailed       string
	DBMigrationsFailed string
	StateLoadFailed    string
	APIServerError     string
	DBDegraded         string
	DBReconnected      string

	// Snapshot
	SnapshotCaptured  string
	SnapshotFetchFail string
	BaselineSeeded    string

	// Risk / kill-switch
	RiskManagerInit       string
	RiskManagerInitFailed string
	RiskRejected          string
	KillSwitchEngaged     string
	KillSwitchRecovered   string

	// Approvals / execution
	ApprovalCreated    string
	ExecutionSimulated string
	ExecutionFailed    string
	MFAChallengeIssued string

	// Scheduler
	CadenceChanged   string
	TaskSkippedBusy  string
	SchedulerStopped string

	// Anomaly / learning
	AnomalyDetected      string
	PreferencesRecomputed string
}

var (
	currentLang Language = LangEN
	mu          sync.RWMutex
	messages    *Messages
)

// English messages
var messagesEN = Messages{
	Starting:           "Starting trading supervisor...",
	ConfigLoaded:       "Config loaded (Port: %s)",
	UsingDBPath:        "Using DB path: %s",
	ServerListening:    "Server listening on :%s",
	ShuttingDown:       "Shutting down gracefully...",
	DryRunMode:         "Running in DRY-RUN mode (orders will NOT hit the venue)",
	ConfigLoadFailed:   "Failed to load config: %v",
	DBInitFailed:       "Failed to init persistence gateway: %v",
	DBMigrationsFailed: "Failed to apply migrations: %v",
	StateLoadFailed:    "Failed to load state: %v",
	APIServerError:     "API server error: %v",
	DBDegraded:         "Persistence gateway degraded: %v (entering degraded mode, retrying)",
	DBReconnected:      "Persistence gateway reconnected after %v",

	SnapshotCaptured:  "Snapshot captured: %d symbols, total %.2f USD",
	SnapshotFetchFail: "Snapshot tick skipped: %v",
	BaselineSeeded:    "Baseline seeded: BTC=%.8f XRP=%.8f",

	RiskManagerInit:       "Risk gate initialized: max_daily_loss=%.2f max_trades_hour=%d",
	RiskManagerInitFailed: "Risk gate init failed, falling back to in-memory default: %v",
	RiskRejected:          "Risk rejected rule %s: %s",
	KillSwitchEngaged:     "Kill-switch engaged by %s: %s",
	KillSwitchRecovered:   "Kill-switch recovered by %s",

	ApprovalCreated:    "Approval %s created: %s %s",
	ExecutionSimulated: "Execution %s simulated (dry-run)",
	ExecutionFailed:    "Execution %s failed: %v",
	MFAChallengeIssued: "MFA challenge issued for trade %s, expires %v",

	CadenceChanged:   "Snapshot cadence changed to %v (stddev=%.2f%%)",
	TaskSkippedBusy:  "Task %s skipped: previous tick still running",
	SchedulerStopped: "Scheduler stopped, all tasks exited",

	AnomalyDetected:       "Anomaly detected: %s severity=%s",
	PreferencesRecomputed: "Preferences recomputed from %d trade decisions",
}

// Chinese messages
var messagesZH = Messages{
	Starting:           "啟動交易監督系統...",
	ConfigLoaded:       "設定已載入（埠號：%s）",
	UsingDBPath:        "使用資料庫路徑：%s",
	ServerListening:    "服務監聽於 :%s",
	ShuttingDown:       "正在優雅關閉...",
	DryRunMode:         "DRY-RUN 模式（不會送出真實委託）",
	ConfigLoadFailed:   "讀取設定失敗：%v",
	DBInitFailed:       "初始化持久層失敗：%v",
	DBMigrationsFailed: "套用資料庫遷移失敗：%v",
	StateLoadFailed:    "載入狀態失敗：%v",
	APIServerError:     "API 伺服器錯誤：%v",
	DBDegraded:         "持久層降級運作：%v（進入降級模式並重試）",
	DBReconnected:      "持久層已於 %v 後重新連線",

	SnapshotCaptured:  "已擷取快照：%d 個標的，總值 %.2f 美元",
	SnapshotFetchFail: "快照週期已略過：%v",
	BaselineSeeded:    "基準已建立：BTC=%.8f XRP=%.8f",

	RiskManagerInit:       "風控閘門初始化：每日虧損上限=%.2f 每小時交易上限=%d",
	RiskManagerInitFailed: "風控閘門初始化失敗，改用預設記憶體設定：%v",
	RiskRejected:          "風控拒絕規則 %s：%s",
	KillSwitchEngaged:     "熔斷開關已由 %s 啟動：%s",
	KillSwitchRecovered:   "熔斷開關已由 %s 解除",

	ApprovalCreated:    "已建立審批 %s：%s %s",
	ExecutionSimulated: "執行 %s 已模擬（dry-run）",
	ExecutionFailed:    "執行 %s 失敗：%v",
	MFAChallengeIssued: "已為交易 %s 發出雙因子驗證碼，效期至 %v",

	CadenceChanged:   "快照頻率已變更為 %v（標準差=%.2f%%）",
	TaskSkippedBusy:  "任務 %s 已略過：前一輪仍在執行",
	SchedulerStopped: "排程器已停止，所有任務均已結束",

	AnomalyDetected:       "偵測到異常：%s 嚴重度=%s",
	PreferencesRecomputed: "已依 %d 筆交易決策重新計算偏好設定",
}

func init() {
	messages = &messagesEN
}

// SetLanguage sets the current language
func SetLanguage(lang Language) {
	mu.Lock()
	defer mu.Unlock()

	currentLang = lang
	switch lang {
	case LangZH:
		messages = &messagesZH
	default:
		messages = &messagesEN
	}
}

// GetLanguage returns the current language
func GetLanguage() Language {
	mu.RLock()
	defer mu.RUnlock()
	return currentLang
}

// M returns the current messages
func M() *Messages {
	mu.RLock()
	defer mu.RUnlock()
	return messages
}

// Get returns specific message by key dynamically using reflection
func Get(key string) string {
	msg := M()
	v := reflect.ValueOf(msg).Elem()
	f := v.FieldByName(key)
	if f.IsValid() && f.Kind() == reflect.String {
		return f.String()
	}
	return key
}
