// Package telemetry pushes per-chamber light and fan state to an SNMP
// collector, for sites that graph chamber activity alongside the rest of
// their environment monitoring.
package telemetry

import (
	"context"
	"fmt"
	"time"

	"github.com/gosnmp/gosnmp"

	"specac_control/internal/fleet"
	"specac_control/internal/logger"
	"specac_control/internal/models"
)

// SNMPConfig mirrors the snmp block of the config file.
type SNMPConfig struct {
	Enabled   bool
	Host      string
	Port      uint16
	Community string
	Interval  time.Duration
	LightOID  string // base OID, chamber and channel appended
	FanOID    string // base OID, chamber appended
}

// Sender periodically snapshots the fleet and pushes one PDU per channel
// plus one per fan.
type Sender struct {
	cfg    SNMPConfig
	coord  *fleet.Coordinator
	client *gosnmp.GoSNMP
	log    *logger.Logger
}

func NewSender(cfg SNMPConfig, coord *fleet.Coordinator, log *logger.Logger) *Sender {
	return &Sender{cfg: cfg, coord: coord, log: log.Named("snmp")}
}

// Run connects and loops until the context is cancelled. A disabled config
// returns immediately.
func (s *Sender) Run(ctx context.Context) {
	if !s.cfg.Enabled {
		return
	}
	s.client = &gosnmp.GoSNMP{
		Target:    s.cfg.Host,
		Port:      s.cfg.Port,
		Community: s.cfg.Community,
		Version:   gosnmp.Version2c,
		Timeout:   2 * time.Second,
	}
	if err := s.client.Connect(); err != nil {
		s.log.Errorw("snmp connect failed", "host", s.cfg.Host, "err", err)
		return
	}
	defer s.client.Conn.Close()
	s.log.Infow("snmp sender started", "host", s.cfg.Host, "port", s.cfg.Port)

	interval := s.cfg.Interval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.send(); err != nil {
				s.log.Warnw("snmp send failed", "err", err)
			}
		}
	}
}

func (s *Sender) send() error {
	var pdus []gosnmp.SnmpPDU

	for i, d := range s.coord.Devices() {
		settings, ok := s.coord.Settings(i)
		if !ok {
			continue
		}
		for _, name := range models.ChannelNames {
			sched := settings.Schedule[name]
			percent := settings.Intensity[name]
			if sched.Enabled && !sched.Active {
				percent = 0
			}
			pdus = append(pdus, gosnmp.SnmpPDU{
				Name:  fmt.Sprintf("%s.%d.%s", s.cfg.LightOID, d.Chamber, name),
				Type:  gosnmp.Integer,
				Value: percent,
			})
		}
		fanSpeed := 0
		if settings.Fan.Enabled {
			fanSpeed = settings.Fan.Speed
		}
		pdus = append(pdus, gosnmp.SnmpPDU{
			Name:  fmt.Sprintf("%s.%d", s.cfg.FanOID, d.Chamber),
			Type:  gosnmp.Integer,
			Value: fanSpeed,
		})
	}

	if len(pdus) == 0 {
		return nil
	}
	if _, err := s.client.Set(pdus); err != nil {
		return fmt.Errorf("send snmp data: %w", err)
	}
	return nil
}
