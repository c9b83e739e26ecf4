package cmd

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/luma/gwlink/client"
	"github.com/luma/gwlink/internal/meta"
	"github.com/luma/gwlink/protocol"
)

// bridge exposes one gateway session over HTTP. Requests queue up behind
// each other since the link is half duplex.
type bridge struct {
	session *client.Session
	log     *zap.Logger
}

func newBridge(session *client.Session, log *zap.Logger) *bridge {
	return &bridge{session: session, log: log.Named("bridge")}
}

func (b *bridge) routes(r *gin.Engine) {
	r.GET("/ping", func(c *gin.Context) {
		c.String(http.StatusOK, "pong")
	})

	r.GET("/version", func(c *gin.Context) {
		c.JSON(http.StatusOK, meta.GetInfo())
	})

	v1 := r.Group("/v1")
	v1.POST("/commands", b.postCommand)
	v1.GET("/correlations", b.getCorrelations)
	v1.GET("/state", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"state": b.session.State()})
	})
}

// postCommand forwards the request body to the gateway and answers with the
// gateway's response verbatim.
func (b *bridge) postCommand(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	cmd, err := protocol.ParseCommand(body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()

	if b.session.State() == client.StateDisconnected {
		b.log.Info("Reconnecting to gateway")

		if err := b.session.Connect(ctx); err != nil {
			b.fail(c, cmd, err)
			return
		}
	}

	resp, err := b.session.Do(ctx, cmd)
	if err != nil {
		b.fail(c, cmd, err)
		return
	}

	c.Data(http.StatusOK, "application/json; charset=utf-8", resp.Raw)
}

func (b *bridge) getCorrelations(c *gin.Context) {
	c.JSON(http.StatusOK, b.session.Correlations())
}

func (b *bridge) fail(c *gin.Context, cmd protocol.Command, err error) {
	status := statusForError(err)

	if status >= http.StatusInternalServerError {
		b.log.Warn("Command failed", zap.Stringer("command", cmd), zap.Error(err))
	}

	c.JSON(status, gin.H{"error": err.Error()})
}

func statusForError(err error) int {
	var transportErr *client.TransportError

	switch {
	case errors.Is(err, client.ErrPrecondition), errors.Is(err, protocol.ErrInvalidCommand):
		return http.StatusBadRequest

	case errors.Is(err, client.ErrNotConnected),
		errors.Is(err, client.ErrDisconnected),
		errors.Is(err, client.ErrSessionClosed),
		errors.As(err, &transportErr):
		return http.StatusServiceUnavailable

	case errors.Is(err, client.ErrTimeout):
		return http.StatusGatewayTimeout

	case errors.Is(err, protocol.ErrMalformedResponse),
		errors.Is(err, protocol.ErrMessageTooLarge),
		errors.Is(err, protocol.ErrStalled):
		return http.StatusBadGateway

	default:
		return http.StatusInternalServerError
	}
}
