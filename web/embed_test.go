package web

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
)

func testFS() fstest.MapFS {
	return fstest.MapFS{
		"index.html":       {Data: []byte("<html>landing</html>")},
		"assets/chat.js":   {Data: []byte("// chat")},
		"assets/style.css": {Data: []byte("body{}")},
	}
}

func serve(h http.Handler, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func TestHandlerServesFiles(t *testing.T) {
	h := Handler(testFS())

	w := serve(h, "/assets/chat.js")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "// chat", w.Body.String())

	w = serve(h, "/")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "landing")
}

func TestHandlerFallsBackToIndex(t *testing.T) {
	w := serve(Handler(testFS()), "/chat/anything")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "landing")
}

func TestHandlerUnknownAPIPath(t *testing.T) {
	h := Handler(testFS())
	assert.Equal(t, http.StatusNotFound, serve(h, "/api/nope").Code)
	assert.Equal(t, http.StatusNotFound, serve(h, "/ws/nope").Code)
}

func TestEmbeddedBundle(t *testing.T) {
	h := SPAHandler()

	w := serve(h, "/")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Multi-Agent Platform")

	assert.Equal(t, http.StatusOK, serve(h, "/assets/chat.js").Code)
	assert.Equal(t, http.StatusOK, serve(h, "/assets/styles.css").Code)
}

func TestEmbeddedWidgetPollsWithoutSocket(t *testing.T) {
	w := serve(SPAHandler(), "/assets/chat.js")
	assert.Equal(t, http.StatusOK, w.Code)

	js := w.Body.String()
	// HTTP submissions fall back to fetching the session until the reply lands.
	assert.Contains(t, js, "function poll()")
	assert.Contains(t, js, `fetch("/api/chat/sessions/" + sessionId)`)
	assert.Contains(t, js, "if (snap.pending) poll();")
}
