// Package audit writes security events of the peer server in a structured
// form that log pipelines can filter on the "security_audit" logger name.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-orm/pkg/auth"
	"github.com/ekaya-inc/ekaya-orm/pkg/sql"
)

// SecurityEventType categorizes security-relevant events for filtering and alerting.
type SecurityEventType string

const (
	// EventSQLInjectionAttempt is logged when a remote filter value is recognized as SQL.
	EventSQLInjectionAttempt SecurityEventType = "sql_injection_attempt"
	// EventAuthenticationFailure is logged when a call carries no valid token.
	EventAuthenticationFailure SecurityEventType = "authentication_failure"
	// EventRemoteMutation is logged for every insert, update and delete a peer applies.
	EventRemoteMutation SecurityEventType = "remote_mutation"
)

// SecurityEvent is one auditable event.
type SecurityEvent struct {
	Timestamp time.Time         `json:"timestamp"`
	EventType SecurityEventType `json:"event_type"`
	RequestID string            `json:"request_id,omitempty"`
	Subject   string            `json:"subject,omitempty"`
	Session   string            `json:"session,omitempty"`
	ClientIP  string            `json:"client_ip,omitempty"`
	Details   any               `json:"details"`
	Severity  string            `json:"severity"` // info, warning, critical
}

// InjectionDetails describes a rejected filter value.
type InjectionDetails struct {
	Entity      string `json:"entity"`
	Column      string `json:"column"`
	Operator    string `json:"operator,omitempty"`
	Value       string `json:"value"`
	Fingerprint string `json:"fingerprint"`
}

// MutationDetails describes a change applied on behalf of a remote session.
type MutationDetails struct {
	Action string `json:"action"`
	Entity string `json:"entity"`
	Key    string `json:"key"`
}

// SecurityAuditor logs security events.
type SecurityAuditor struct {
	logger *zap.Logger
}

// NewSecurityAuditor creates an auditor logging under the "security_audit" name.
func NewSecurityAuditor(logger *zap.Logger) *SecurityAuditor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SecurityAuditor{logger: logger.Named("security_audit")}
}

func newEvent(ctx context.Context, t SecurityEventType, requestID, clientIP, severity string, details any) SecurityEvent {
	e := SecurityEvent{
		Timestamp: time.Now().UTC(),
		EventType: t,
		RequestID: requestID,
		ClientIP:  clientIP,
		Details:   details,
		Severity:  severity,
	}
	if claims, ok := auth.GetClaims(ctx); ok {
		e.Subject = claims.Subject
		e.Session = claims.Session
	}
	return e
}

func eventJSON(e SecurityEvent) string {
	// known types only
	data, _ := json.Marshal(e)
	return string(data)
}

// LogInjectionAttempt records a filter value libinjection flagged.
// It is logged at ERROR with "critical" severity.
func (a *SecurityAuditor) LogInjectionAttempt(ctx context.Context, requestID, entity string, f *sql.Finding, clientIP string) {
	details := InjectionDetails{
		Entity:      entity,
		Column:      f.Column,
		Operator:    f.Operator,
		Value:       f.Value,
		Fingerprint: f.Fingerprint,
	}
	e := newEvent(ctx, EventSQLInjectionAttempt, requestID, clientIP, "critical", details)

	a.logger.Error("SQL injection attempt detected",
		zap.String("event_json", eventJSON(e)),
		zap.String("request_id", requestID),
		zap.String("entity", entity),
		zap.String("column", f.Column),
		zap.String("fingerprint", f.Fingerprint),
		zap.String("client_ip", clientIP),
		zap.String("subject", e.Subject),
		zap.String("severity", e.Severity),
	)
}

// LogAuthenticationFailure records a refused call. These are usually
// misconfigured peers, so the severity is "warning".
func (a *SecurityAuditor) LogAuthenticationFailure(requestID, path, reason, clientIP string) {
	e := newEvent(context.Background(), EventAuthenticationFailure, requestID, clientIP, "warning",
		map[string]string{"path": path, "reason": reason})

	a.logger.Warn("Authentication failed",
		zap.String("event_json", eventJSON(e)),
		zap.String("request_id", requestID),
		zap.String("path", path),
		zap.String("reason", reason),
		zap.String("client_ip", clientIP),
		zap.String("severity", e.Severity),
	)
}

// LogMutation records an applied insert, update or delete at INFO.
func (a *SecurityAuditor) LogMutation(ctx context.Context, requestID, action, entity string, key []any, clientIP string) {
	details := MutationDetails{Action: action, Entity: entity, Key: fmt.Sprint(key...)}
	e := newEvent(ctx, EventRemoteMutation, requestID, clientIP, "info", details)

	a.logger.Info("Remote mutation applied",
		zap.String("event_json", eventJSON(e)),
		zap.String("request_id", requestID),
		zap.String("action", action),
		zap.String("entity", entity),
		zap.String("key", details.Key),
		zap.String("client_ip", clientIP),
		zap.String("subject", e.Subject),
		zap.String("session", e.Session),
		zap.String("severity", e.Severity),
	)
}
