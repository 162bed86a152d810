package processors

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/loykin/clogs/internal/store"
)

type errorResp struct {
	Error string `json:"error"`
}

// serveRead answers a read-only endpoint from a short-lived session. The
// processor's own session belongs to its loop goroutine and is never used here.
func serveRead(c *gin.Context, st store.Store, fn func(ctx context.Context, sess store.Session) (any, error)) {
	sess := st.Session()
	defer func() { _ = sess.Close() }()
	v, err := fn(c.Request.Context(), sess)
	if err != nil {
		c.JSON(http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, v)
}
