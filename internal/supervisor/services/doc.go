// Rendezvous - Realtime Chat Core for Dating and Social Apps
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/rendezvous

// Package services adapts the server's long-running components to
// suture.Service. Each wrapper depends on a small interface so it can be
// tested without the real component.
package services
