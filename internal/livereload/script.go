package livereload

import (
	"bytes"
	"fmt"
)

var headClose = []byte("</head>")

// Script returns the client snippet that reloads the page when addr sends a
// frame, and again shortly after the connection drops.
func Script(addr string) []byte {
	return []byte(fmt.Sprintf(`<script>
(function() {
  const ws = new WebSocket("ws://%s");
  ws.onmessage = () => location.reload();
  ws.onclose = () => setTimeout(() => location.reload(), 1000);
})();
</script>
`, addr))
}

// Inject places script before the first </head>. Documents without a head
// are returned unchanged.
func Inject(html, script []byte) []byte {
	i := bytes.Index(html, headClose)
	if i < 0 {
		return html
	}

	out := make([]byte, 0, len(html)+len(script))
	out = append(out, html[:i]...)
	out = append(out, script...)
	return append(out, html[i:]...)
}
