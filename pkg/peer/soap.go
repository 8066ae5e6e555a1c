package peer

import (
	"encoding/xml"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-orm/pkg/adapters/remote"
	"github.com/ekaya-inc/ekaya-orm/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-orm/pkg/logging"
	"github.com/ekaya-inc/ekaya-orm/pkg/mapping"
	"github.com/ekaya-inc/ekaya-orm/pkg/message"
	"github.com/ekaya-inc/ekaya-orm/pkg/object"
	"github.com/ekaya-inc/ekaya-orm/pkg/sql"
)

// call is one decoded request with the class it names.
type call struct {
	id    string
	req   *remote.Request
	class *mapping.Class
}

func (k *call) fault(actor, format string, args ...any) *remote.Response {
	return remote.Faultf(k.id, actor, k.req.Action, format, args...)
}

// soap handles POST /soap.
func (s *Server) soap(c *gin.Context) {
	id := c.GetString(requestIDKey)
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, remote.MaxBodyBytes))
	if err != nil {
		writeResponse(c, remote.Faultf(id, remote.ActorClient, "read", "request body: %v", err))
		return
	}
	var req remote.Request
	if err := xml.Unmarshal(body, &req); err != nil {
		writeResponse(c, remote.Faultf(id, remote.ActorClient, "decode", "malformed request: %v", err))
		return
	}
	if req.ID != "" {
		id = req.ID
	}

	k := &call{id: id, req: &req}
	class, ok := s.session.Model().FindClass(req.Entity)
	if !ok {
		writeResponse(c, k.fault(remote.ActorClient, "unknown entity %q", req.Entity))
		return
	}
	k.class = class

	var resp *remote.Response
	switch req.Action {
	case remote.ActionSelect:
		resp = s.selectObjects(c, k)
	case remote.ActionInsert:
		resp = s.insertObject(c, k)
	case remote.ActionUpdate:
		resp = s.updateObject(c, k)
	case remote.ActionDelete:
		resp = s.deleteObject(c, k)
	case remote.ActionDescribe:
		resp = s.describe(k)
	default:
		resp = k.fault(remote.ActorClient, "unknown action %q", req.Action)
	}
	if resp.Result != remote.ResultOK {
		s.logger.Warn("Request refused",
			zap.String("request_id", id),
			zap.String("action", req.Action),
			zap.String("entity", req.Entity),
			zap.String("fault", resp.Fault.String()))
	}
	writeResponse(c, resp)
}

func writeResponse(c *gin.Context, resp *remote.Response) {
	status := http.StatusOK
	if resp.Fault != nil {
		status = http.StatusInternalServerError
		if resp.Fault.Actor == remote.ActorClient {
			status = http.StatusBadRequest
		}
	}
	data, err := xml.Marshal(resp)
	if err != nil {
		c.String(http.StatusInternalServerError, "encode response: %v", err)
		return
	}
	c.Data(status, remote.ContentType, append([]byte(xml.Header), data...))
}

// rejectUnauthorized answers a call without a valid token.
func (s *Server) rejectUnauthorized(c *gin.Context, status int, reason string) {
	s.audit.LogAuthenticationFailure(c.GetString(requestIDKey), c.Request.URL.Path, reason, c.ClientIP())
	resp := remote.Faultf(c.GetString(requestIDKey), remote.ActorClient, "authenticate", "%s", reason)
	data, _ := xml.Marshal(resp)
	c.Data(status, remote.ContentType, append([]byte(xml.Header), data...))
}

// serverFault reports a backend error without leaking credentials.
func (k *call) serverFault(err error) *remote.Response {
	return k.fault(remote.ActorServer, "%s", logging.SanitizeError(err))
}

func (s *Server) selectObjects(c *gin.Context, k *call) *remote.Response {
	if len(k.req.Filters) == 0 {
		return k.fault(remote.ActorClient, "at least one filter is required")
	}
	fs, err := remote.FilterSetOf(k.req.Filters)
	if err != nil {
		return k.fault(remote.ActorClient, "%v", err)
	}
	if findings := sql.CheckFilters(fs); len(findings) > 0 {
		for _, f := range findings {
			s.audit.LogInjectionAttempt(c.Request.Context(), k.id, k.class.Name(), f, c.ClientIP())
		}
		f := findings[0]
		return k.fault(remote.ActorClient, "filter value for %s is not allowed", f.Column)
	}

	list, err := s.session.LoadWhere(c.Request.Context(), k.class.Name(), fs, k.req.OrderBy)
	if err != nil {
		return k.serverFault(err)
	}
	out := make([]*message.Element, 0, len(list))
	for _, e := range list {
		msg, err := classOf(k.class, e).EntityMessage(e)
		if err != nil {
			return k.serverFault(err)
		}
		out = append(out, msg)
	}
	return remote.OK(k.id, out...)
}

// classOf returns the mapped class of a loaded entity, which may be a
// subclass of the requested one.
func classOf(requested *mapping.Class, e object.Entity) *mapping.Class {
	if c, ok := e.Base().Class().(*mapping.Class); ok {
		return c
	}
	return requested
}

// decode builds a transient entity of the concrete class of the single
// object in the request.
func (k *call) decode() (object.Entity, *mapping.Class, *remote.Response) {
	if len(k.req.Objects) != 1 {
		return nil, nil, k.fault(remote.ActorClient, "exactly one entity is required, got %d", len(k.req.Objects))
	}
	msg := k.req.Objects[0]
	concrete := k.class.ConcreteClass(mapping.MessageGetter(msg))
	e, err := concrete.NewEntity()
	if err != nil {
		return nil, nil, k.serverFault(err)
	}
	if err := object.FromMessage(e, msg); err != nil {
		return nil, nil, k.fault(remote.ActorClient, "%v", err)
	}
	return e, concrete, nil
}

func (s *Server) insertObject(c *gin.Context, k *call) *remote.Response {
	e, concrete, fault := k.decode()
	if fault != nil {
		return fault
	}
	ok, err := s.session.Insert(c.Request.Context(), e)
	if err != nil {
		return k.serverFault(err)
	}
	if !ok {
		return k.fault(remote.ActorServer, "insert into %s refused", concrete.Name())
	}
	s.audit.LogMutation(c.Request.Context(), k.id, k.req.Action, concrete.Name(), e.Base().PrimaryKey(), c.ClientIP())
	msg, err := concrete.EntityMessage(e)
	if err != nil {
		return k.serverFault(err)
	}
	return remote.OK(k.id, msg)
}

// loadTarget re-reads the stored object matching the key of the request
// entity.
func (s *Server) loadTarget(c *gin.Context, k *call) (object.Entity, *remote.Response) {
	e, concrete, fault := k.decode()
	if fault != nil {
		return nil, fault
	}
	key := e.Base().PrimaryKey()
	if e.Base().IsTransient() {
		return nil, k.fault(remote.ActorClient, "entity %s has no primary key", concrete.Name())
	}
	target, err := s.session.Load(c.Request.Context(), concrete.Name(), key...)
	if err != nil {
		if errors.Is(err, apperrors.ErrMismatch) {
			return nil, k.fault(remote.ActorClient, "%v", err)
		}
		return nil, k.serverFault(err)
	}
	if target == nil {
		return nil, k.fault(remote.ActorServer, "no row for key %v", key)
	}
	return target, nil
}

func (s *Server) updateObject(c *gin.Context, k *call) *remote.Response {
	target, fault := s.loadTarget(c, k)
	if fault != nil {
		return fault
	}
	// the target is the cached object: a failed update must not leave the
	// request's values behind for the next synchronize
	rollback, err := object.Checkpoint(target)
	if err != nil {
		return k.serverFault(err)
	}
	undo := func() {
		if err := rollback(); err != nil {
			s.logger.Error("Failed to restore cached object", zap.String("entity", k.class.Name()), zap.Error(err))
		}
	}
	if err := object.FromMessage(target, k.req.Objects[0]); err != nil {
		undo()
		return k.fault(remote.ActorClient, "%v", err)
	}
	ok, err := s.session.Update(c.Request.Context(), target)
	if err != nil {
		undo()
		return k.serverFault(err)
	}
	if !ok {
		undo()
		return k.fault(remote.ActorServer, "update of %s refused", k.class.Name())
	}
	s.audit.LogMutation(c.Request.Context(), k.id, k.req.Action, k.class.Name(), target.Base().PrimaryKey(), c.ClientIP())
	return remote.OK(k.id)
}

func (s *Server) deleteObject(c *gin.Context, k *call) *remote.Response {
	target, fault := s.loadTarget(c, k)
	if fault != nil {
		return fault
	}
	ok, err := s.session.Delete(c.Request.Context(), target)
	if err != nil {
		return k.serverFault(err)
	}
	if !ok {
		return k.fault(remote.ActorServer, "delete from %s refused", k.class.Name())
	}
	s.audit.LogMutation(c.Request.Context(), k.id, k.req.Action, k.class.Name(), target.Base().PrimaryKey(), c.ClientIP())
	return remote.OK(k.id)
}

func (s *Server) describe(k *call) *remote.Response {
	resp := remote.OK(k.id)
	for _, a := range k.class.AllAttributes() {
		resp.Attributes = append(resp.Attributes, a.Message())
	}
	return resp
}
