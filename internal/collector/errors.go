package collector

import "errors"

// ErrClosed — коллектор остановлен, событие не принято
var ErrClosed = errors.New("collector closed")
