package logging

import (
	"path/filepath"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// AuditEventType names a state transition worth keeping a durable record of.
type AuditEventType string

const (
	// Session lifecycle
	AuditSessionCreated AuditEventType = "session_created"
	AuditSessionReset   AuditEventType = "session_reset"

	// Question detection
	AuditQuestionAdopted AuditEventType = "question_adopted"
	AuditPendingSet      AuditEventType = "pending_set"
	AuditPendingCleared  AuditEventType = "pending_cleared"

	// Backend registration
	AuditQuestionRegistered AuditEventType = "question_registered"
	AuditRegistrationFailed AuditEventType = "registration_failed"

	// Chat turns
	AuditMessageSent AuditEventType = "message_sent"
	AuditSendFailed  AuditEventType = "send_failed"
)

// AuditEvent is one line of logs/audit.log.
type AuditEvent struct {
	EventType AuditEventType
	Question  int
	Title     string
	Success   bool
	Error     string
	Fields    map[string]interface{}
}

var (
	auditMu      sync.Mutex
	auditLogger  *AuditLogger
	auditRotator *lumberjack.Logger
)

// AuditLogger writes transition events. A nil zap logger discards them.
type AuditLogger struct {
	z *zap.Logger
}

// Audit returns the process-wide audit logger, opening logs/audit.log on
// first use when debug mode is on.
func Audit() *AuditLogger {
	auditMu.Lock()
	defer auditMu.Unlock()

	if auditLogger != nil {
		return auditLogger
	}
	dir := currentLogsDir()
	if !IsDebugMode() || dir == "" {
		return &AuditLogger{}
	}

	auditRotator = &lumberjack.Logger{
		Filename:   filepath.Join(dir, "audit.log"),
		MaxSize:    10,
		MaxBackups: 5,
		MaxAge:     30,
		Compress:   true,
	}
	enc := zap.NewProductionEncoderConfig()
	enc.TimeKey = "ts"
	enc.EncodeTime = zapcore.EpochMillisTimeEncoder
	enc.MessageKey = "event"
	enc.LevelKey = ""
	enc.CallerKey = ""

	core := zapcore.NewCore(zapcore.NewJSONEncoder(enc), zapcore.AddSync(auditRotator), zapcore.InfoLevel)
	auditLogger = &AuditLogger{z: zap.New(core)}
	return auditLogger
}

// closeAuditLocked is called by CloseAll with loggersMu held.
func closeAuditLocked() {
	auditMu.Lock()
	defer auditMu.Unlock()

	if auditLogger != nil && auditLogger.z != nil {
		_ = auditLogger.z.Sync()
	}
	if auditRotator != nil {
		_ = auditRotator.Close()
	}
	auditLogger = nil
	auditRotator = nil
}

// Log writes an audit event
func (a *AuditLogger) Log(e AuditEvent) {
	if a == nil || a.z == nil {
		return
	}
	fields := []zap.Field{zap.Bool("success", e.Success)}
	if e.Question != 0 {
		fields = append(fields, zap.Int("question", e.Question))
	}
	if e.Title != "" {
		fields = append(fields, zap.String("title", e.Title))
	}
	if e.Error != "" {
		fields = append(fields, zap.String("error", e.Error))
	}
	if len(e.Fields) > 0 {
		fields = append(fields, zap.Any("fields", e.Fields))
	}
	a.z.Info(string(e.EventType), fields...)
}

// =============================================================================
// CONVENIENCE METHODS
// =============================================================================

// SessionCreated records a new backend session for username.
func (a *AuditLogger) SessionCreated(username string, success bool, errMsg string) {
	a.Log(AuditEvent{
		EventType: AuditSessionCreated,
		Success:   success,
		Error:     errMsg,
		Fields:    map[string]interface{}{"username": username},
	})
}

// SessionReset records the local session being discarded.
func (a *AuditLogger) SessionReset(remoteOK bool) {
	a.Log(AuditEvent{
		EventType: AuditSessionReset,
		Success:   true,
		Fields:    map[string]interface{}{"remote_deleted": remoteOK},
	})
}

func (a *AuditLogger) QuestionAdopted(number int, title string) {
	a.Log(AuditEvent{EventType: AuditQuestionAdopted, Question: number, Title: title, Success: true})
}

func (a *AuditLogger) PendingSet(number int, title string) {
	a.Log(AuditEvent{EventType: AuditPendingSet, Question: number, Title: title, Success: true})
}

func (a *AuditLogger) PendingCleared() {
	a.Log(AuditEvent{EventType: AuditPendingCleared, Success: true})
}

// Registration records the outcome of registering a question with the backend.
func (a *AuditLogger) Registration(number int, success bool, errMsg string) {
	t := AuditQuestionRegistered
	if !success {
		t = AuditRegistrationFailed
	}
	a.Log(AuditEvent{EventType: t, Question: number, Success: success, Error: errMsg})
}

// Send records a chat turn; the text itself is never logged.
func (a *AuditLogger) Send(length int, success bool, errMsg string) {
	t := AuditMessageSent
	if !success {
		t = AuditSendFailed
	}
	a.Log(AuditEvent{
		EventType: t,
		Success:   success,
		Error:     errMsg,
		Fields:    map[string]interface{}{"len": length},
	})
}
