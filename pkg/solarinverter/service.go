// Package solarinverter polls a Huawei SUN2000 inverter for its active
// power output over modbus TCP. Polling is optional and entirely separate
// from the meter pipeline: a dead inverter never blocks telegram handling.
package solarinverter

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/goburrow/modbus"
	probing "github.com/prometheus-community/pro-bing"
	"github.com/rs/zerolog"
)

var (
	ErrInverterUnreachable = errors.New("solar inverter unreachable")
	ErrModbusReadFailed    = errors.New("modbus read failed")
)

// regActivePower is the SUN2000 active power register: signed 32-bit
// watts spread over two holding registers.
const regActivePower = 32080

type Inverter struct {
	host string
	addr string
	log  zerolog.Logger

	// Reads are cached briefly; the inverter gets flaky when polled
	// more often than that.
	mu           sync.Mutex
	lastWatt     int32
	lastReadTime time.Time
}

func New(host string, port int, logger zerolog.Logger) *Inverter {
	return &Inverter{
		host: host,
		addr: fmt.Sprintf("%s:%d", host, port),
		log:  logger.With().Str("component", "solarinverter").Logger(),
	}
}

// ReadPower returns the inverter's current active power in watt. Results
// younger than ten seconds are served from cache.
func (inv *Inverter) ReadPower() (int32, error) {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	if inv.lastReadTime.After(time.Now().Add(-10 * time.Second)) {
		return inv.lastWatt, nil
	}

	const maxRetries = 3
	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		// Ping gate: a modbus dial into a powered-down inverter hangs for
		// the full handler timeout, the ping fails in two seconds.
		if ok, err := ping(inv.host); !ok || err != nil {
			if err == nil {
				err = ErrInverterUnreachable
			}
			lastErr = fmt.Errorf("ping failed on attempt %d: %w", attempt+1, err)
			if attempt < maxRetries-1 {
				time.Sleep(2 * time.Second)
			}
			continue
		}

		watt, err := inv.readActivePower()
		if err != nil {
			lastErr = fmt.Errorf("attempt %d: %w", attempt+1, err)
			if attempt < maxRetries-1 {
				time.Sleep(2 * time.Second)
			}
			continue
		}

		inv.lastWatt = watt
		inv.lastReadTime = time.Now()
		return watt, nil
	}

	inv.log.Warn().Err(lastErr).Msg("giving up on solar inverter read")
	return 0, errors.Join(ErrModbusReadFailed, lastErr)
}

func (inv *Inverter) readActivePower() (int32, error) {
	handler := modbus.NewTCPClientHandler(inv.addr)
	handler.Timeout = 10 * time.Second
	handler.SlaveId = 0

	if err := handler.Connect(); err != nil {
		handler.Close()
		return 0, fmt.Errorf("connect %s: %w", inv.addr, err)
	}
	defer handler.Close()

	// The inverter needs a moment after accepting the connection before
	// it answers register reads.
	time.Sleep(2 * time.Second)

	client := modbus.NewClient(handler)
	result, err := client.ReadHoldingRegisters(regActivePower, 2)
	if err != nil {
		return 0, fmt.Errorf("read active power: %w", err)
	}
	return powerFromRegisters(result)
}

// powerFromRegisters assembles the signed 32-bit active power value from
// the two big-endian registers returned by the inverter.
func powerFromRegisters(result []byte) (int32, error) {
	if len(result) != 4 {
		return 0, fmt.Errorf("expected 4 register bytes, got %d", len(result))
	}
	return int32(result[0])<<24 | int32(result[1])<<16 | int32(result[2])<<8 | int32(result[3]), nil
}

func ping(host string) (bool, error) {
	pinger, err := probing.NewPinger(host)
	if err != nil {
		return false, err
	}

	pinger.Count = 1
	pinger.Timeout = 2 * time.Second
	pinger.SetPrivileged(false) // UDP-based, no root needed

	if err := pinger.Run(); err != nil {
		return false, err
	}

	return pinger.Statistics().PacketsRecv > 0, nil
}
