package server

import (
	"time"

	"github.com/cyclopcam/syncdetect/server/detectiondb"
	"github.com/cyclopcam/syncdetect/server/dispatch"
	"github.com/cyclopcam/syncdetect/server/feed"
	"github.com/cyclopcam/syncdetect/server/streamcache"
)

type ModelStatus struct {
	Name       string `json:"name"`
	NumClasses int    `json:"numClasses"`
	Width      int    `json:"width"`
	Height     int    `json:"height"`
}

type TopicStatus struct {
	Camera string `json:"camera"`
	Depth  string `json:"depth"`
	Cloud  string `json:"cloud"`
}

// Status is returned by /api/status
type Status struct {
	NodeID      string             `json:"nodeID"`
	Uptime      float64            `json:"uptime"` // Seconds
	Model       ModelStatus        `json:"model"`
	Topics      TopicStatus        `json:"topics"`
	Router      feed.RouterStats   `json:"router"`
	Mailbox     feed.MailboxStats  `json:"mailbox"`
	Cache       streamcache.Stats  `json:"cache"`
	Dispatch    dispatch.Stats     `json:"dispatch"`
	History     *detectiondb.Stats `json:"history,omitempty"`
	LiveClients int                `json:"liveClients"`
}

func (s *Server) Status() *Status {
	cfg := s.Config
	st := &Status{
		NodeID: s.NodeID.String(),
		Uptime: time.Since(s.StartedAt).Seconds(),
		Model: ModelStatus{
			Name:       cfg.ModelName,
			NumClasses: s.engine.Labels().NumClasses(),
		},
		Topics: TopicStatus{
			Camera: cfg.CameraTopic,
			Depth:  cfg.DepthTopic,
			Cloud:  cfg.CloudTopic,
		},
		Router:   s.router.Stats(),
		Mailbox:  s.mailbox.Stats(),
		Cache:    s.cache.Stats(),
		Dispatch: s.dispatcher.Stats(),
	}
	if mc := s.detector.Config(); mc != nil {
		st.Model.Width = mc.Width
		st.Model.Height = mc.Height
	}
	if s.detectionDB != nil {
		hs := s.detectionDB.Stats()
		st.History = &hs
	}
	if s.liveFeed != nil {
		st.LiveClients = s.liveFeed.NumClients()
	}
	return st
}
