package route

func emptyResponse(status string) []byte {
	return []byte("HTTP/1.1 " + status + "\r\nContent-Length: 0\r\nConnection: close\r\n\r\n")
}

// Fixed responses for every non-content outcome. They all close the
// connection and are never modified after init.
var (
	OK               = emptyResponse("200 OK")
	BadRequest       = emptyResponse("400 Bad Request")
	Unauthorized     = emptyResponse("401 Unauthorized")
	NotFound         = emptyResponse("404 Not Found")
	MethodNotAllowed = emptyResponse("405 Method Not Allowed")
	PayloadTooLarge  = emptyResponse("413 Payload Too Large")
	InternalError    = emptyResponse("500 Internal Server Error")
)
