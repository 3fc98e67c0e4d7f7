// Licensed to the LF AI & Data foundation under one
// or more contributor license agreements. See the NOTICE file
// distributed with this work for additional information
// regarding copyright ownership. The ASF licenses this file
// to you under the Apache License, Version 2.0 (the
// "License"); you may not use this file except in compliance
// with the License. You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	sessionSubsystem = "session"
	codecSubsystem   = "codec"
	routerSubsystem  = "router"
	storeSubsystem   = "store"
)

var (
	OnlineSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: chatNamespace,
			Subsystem: sessionSubsystem,
			Name:      "online",
			Help:      "number of authenticated sessions in the presence registry",
		})

	AcceptedConnections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: chatNamespace,
			Subsystem: sessionSubsystem,
			Name:      "accepted_total",
			Help:      "number of accepted connections",
		}, []string{transportLabelName})

	AuthResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: chatNamespace,
			Subsystem: sessionSubsystem,
			Name:      "auth_total",
			Help:      "authentication attempts by command and result",
		}, []string{tagLabelName, resultLabelName})

	FrameCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: chatNamespace,
			Subsystem: codecSubsystem,
			Name:      "frames_total",
			Help:      "frames read or written by tag",
		}, []string{directionLabelName, tagLabelName})

	FrameBytes = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: chatNamespace,
			Subsystem: codecSubsystem,
			Name:      "frame_bytes",
			Help:      "encoded frame size in bytes",
			Buckets:   sizeBuckets,
		}, []string{directionLabelName})

	RoutedMessages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: chatNamespace,
			Subsystem: routerSubsystem,
			Name:      "messages_total",
			Help:      "messages routed by type",
		}, []string{messageTypeLabelName})

	RouteLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: chatNamespace,
			Subsystem: routerSubsystem,
			Name:      "route_latency_ms",
			Help:      "time spent routing one message, in milliseconds",
			Buckets:   buckets,
		}, []string{messageTypeLabelName})

	DeliveryFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: chatNamespace,
			Subsystem: routerSubsystem,
			Name:      "delivery_failures_total",
			Help:      "per-recipient delivery failures",
		}, []string{messageTypeLabelName})

	StoreFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: chatNamespace,
			Subsystem: storeSubsystem,
			Name:      "failures_total",
			Help:      "store collaborator failures by operation",
		}, []string{operationLabelName})

	BuildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: chatNamespace,
			Name:      "build_info",
			Help:      "build information, value is always 1",
		}, []string{versionLabelName})
)
