// Copyright 2022 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package programmer

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	probeAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "flashkit_probe_attempts_total",
		Help: "Chip probe attempts per programmer.",
	}, []string{"programmer"})
	bytesRead = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "flashkit_read_bytes_total",
		Help: "Bytes read from flash per programmer.",
	}, []string{"programmer"})
	bytesWritten = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "flashkit_written_bytes_total",
		Help: "Bytes written to flash per programmer.",
	}, []string{"programmer"})
)

// CountProbe records one probe attempt against the named programmer.
func CountProbe(name string) {
	probeAttempts.WithLabelValues(name).Inc()
}

// CountRead records n bytes read through the named programmer.
func CountRead(name string, n int) {
	bytesRead.WithLabelValues(name).Add(float64(n))
}

// CountWrite records n bytes written through the named programmer.
func CountWrite(name string, n int) {
	bytesWritten.WithLabelValues(name).Add(float64(n))
}
