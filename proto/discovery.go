package proto

// mDNS service types advertised by servers and browsed by clients.
const (
	ServiceWebSocket = "_especial-ws._tcp"
	ServiceTCP       = "_especial-tcp._tcp"
)
