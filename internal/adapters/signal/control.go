package signal

import (
	"github.com/dkeye/Space/internal/core"
	"github.com/dkeye/Space/internal/domain"
)

func (ctl *SignalWSController) handlePing(conn core.SignalConnection) {
	ctl.send(conn, domain.MsgPong, struct{}{})
}
