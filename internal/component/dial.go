package component

import (
	"context"
	"net"
)

// dialCheck attempts one TCP connection to addr, closing it immediately;
// used by waitForPort to probe subprocess readiness without keeping a
// connection open.
func dialCheck(ctx context.Context, addr string) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	return conn.Close()
}
