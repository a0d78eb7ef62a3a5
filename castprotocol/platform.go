package castprotocol

// platformChannel answers the connection and heartbeat namespaces.
type platformChannel struct {
	session *Session
}

func (p *platformChannel) handleHeartbeat(env Envelope) {
	s := p.session
	msg, err := DecodeMessage(env.Namespace, env.Payload)
	if err != nil {
		s.log.Warn().Str("Method", "handleHeartbeat").Err(err).Msg("dropping heartbeat")
		return
	}

	switch msg.(type) {
	case *PingMessage:
		pong, err := env.Reply(&Header{Type: TypePong})
		if err != nil {
			return
		}
		// Reply from our own id even when the ping was broadcast.
		pong.SourceID = s.opts.senderID
		if err := s.sendNow(pong); err != nil {
			s.log.Debug().Str("Method", "handleHeartbeat").Err(err).Msg("pong failed")
		}
	case *PongMessage:
		s.log.Trace().Str("Method", "handleHeartbeat").Msg("pong")
	}
}

func (p *platformChannel) handleConnection(env Envelope) {
	s := p.session
	msg, err := DecodeMessage(env.Namespace, env.Payload)
	if err != nil {
		s.log.Warn().Str("Method", "handleConnection").Err(err).Msg("dropping connection message")
		return
	}

	if _, ok := msg.(*CloseMessage); !ok {
		return
	}
	if env.SourceID == PlatformReceiverID {
		s.log.Info().Str("Method", "handleConnection").Msg("receiver closed the connection")
		s.shutdown(&Error{Op: "Read", Sentinel: ErrConnectionClosed, Reason: "receiver closed the connection"}, false)
		return
	}
	s.log.Debug().Str("Method", "handleConnection").Str("Transport", env.SourceID).Msg("virtual connection closed")
	s.forgetConnection(env.SourceID)
}
