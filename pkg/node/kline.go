// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package node

import (
	"context"
	"log"
	"time"

	"github.com/Thermoquad/carinspector/pkg/kline"
)

// KLineClient is the request/response primitive of the K-Line bus
type KLineClient interface {
	Init(ctx context.Context) error
	Initialized() bool
	VehicleInfo(ctx context.Context, pid byte) (*kline.Message, []byte, error)
}

// DefaultKLinePIDs are queried when no list is configured: VIN,
// calibration id, calibration verification number
var DefaultKLinePIDs = []byte{kline.PIDVIN, kline.PIDCalibrationID, kline.PIDCVN}

// KLinePoller runs vehicle-information queries on its own goroutine,
// since one request can take up to the bus read timeout
type KLinePoller struct {
	p              *Pipeline
	client         KLineClient
	pids           []byte
	interval       time.Duration
	enqueueTimeout time.Duration
}

// NewKLinePoller creates a poller. A zero interval queries once.
func NewKLinePoller(p *Pipeline, client KLineClient, pids []byte, interval, enqueueTimeout time.Duration) *KLinePoller {
	if len(pids) == 0 {
		pids = DefaultKLinePIDs
	}
	return &KLinePoller{
		p:              p,
		client:         client,
		pids:           pids,
		interval:       interval,
		enqueueTimeout: enqueueTimeout,
	}
}

// Run queries at start and then every interval until ctx is done
func (k *KLinePoller) Run(ctx context.Context) error {
	k.Poll(ctx)
	if k.interval <= 0 {
		return nil
	}
	ticker := time.NewTicker(k.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			k.Poll(ctx)
		}
	}
}

// Poll runs every configured query once and returns the number of frames
// enqueued
func (k *KLinePoller) Poll(ctx context.Context) int {
	stats := &k.p.Stats.KLine
	if !k.client.Initialized() {
		if err := k.client.Init(ctx); err != nil {
			stats.Errors.Add(1)
			log.Printf("K-Line init failed: %v", err)
			if k.p.Mode.Debug.Load() {
				k.p.Console.Error("kline init: %v", err)
			}
			return 0
		}
		log.Printf("K-Line initialized")
	}

	n := 0
	for _, pid := range k.pids {
		if ctx.Err() != nil {
			return n
		}
		msg, info, err := k.client.VehicleInfo(ctx, pid)
		if err != nil {
			stats.Errors.Add(1)
			log.Printf("K-Line pid 0x%02X: %v", pid, err)
			if k.p.Mode.Debug.Load() {
				k.p.Console.Error("kline pid 0x%02X: %v", pid, err)
			}
			continue
		}
		log.Printf("K-Line pid 0x%02X: %s", pid, kline.FormatVehicleInfo(pid, info))

		f, err := k.p.Pool.NewKLine(msg.Raw)
		if err != nil {
			stats.Malformed.Add(1)
			continue
		}
		if k.p.Submit(f, k.enqueueTimeout) {
			n++
		}
	}
	return n
}
