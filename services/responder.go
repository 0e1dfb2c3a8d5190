package services

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/toolink/appbridge/request"
)

// respond answers triggers until stop is closed.
func (s *MainAppServices) respond(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	for {
		select {
		case <-stop:
			return
		case <-s.trigger:
		}
		if !s.settle(stop) {
			return
		}
		s.answer()
	}
}

// settle waits for the debounce period to pass without a new trigger.
// It returns false when stopped meanwhile.
func (s *MainAppServices) settle(stop <-chan struct{}) bool {
	if s.opts.debounce <= 0 {
		return true
	}
	timer := time.NewTimer(s.opts.debounce)
	defer timer.Stop()
	for {
		select {
		case <-stop:
			return false
		case <-s.trigger:
			timer.Reset(s.opts.debounce)
		case <-timer.C:
			return true
		}
	}
}

func (s *MainAppServices) answer() {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("recovered from panic while answering request")
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), s.opts.checkTimeout)
	defer cancel()

	st, err := s.checker.Check(ctx)
	if err != nil {
		log.Error().Err(err).Msg("failed to check content blocker state, no response posted")
		return
	}

	response := request.AllExtensionEnabledTrue
	if !st.AllEnabled {
		response = request.AllExtensionEnabledFalse
		log.Warn().Strs("disabled", st.Disabled).Msg("content blockers are turned off")
	}
	if err := s.poster.Post(ctx, response.String()); err != nil {
		log.Error().Err(err).Str("response", response.String()).Msg("failed to post response")
		return
	}
	log.Info().Str("response", response.String()).Int("enabled", len(st.Enabled)).Int("disabled", len(st.Disabled)).Msg("answered request")

	if s.opts.onState != nil {
		s.opts.onState(st)
	}
}
