package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/dkeye/Meet/internal/app/orch"
	"github.com/dkeye/Meet/internal/app/remote"
	"github.com/dkeye/Meet/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// participantView is one roster row of the control API.
type participantView struct {
	ID          domain.ParticipantID `json:"id"`
	State       string               `json:"state"`
	Negotiation string               `json:"negotiation,omitempty"`
	Tracks      []remote.TrackStats  `json:"tracks,omitempty"`
}

// SetupControlRouter builds the participant's local control API. onLeave is
// called after a successful leave.
func SetupControlRouter(mode string, o *orch.Orchestrator, onLeave func()) *gin.Engine {
	r := newEngine(mode)
	api := r.Group("/api")

	api.GET("/state", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"self":         o.Self,
			"room":         o.Room,
			"media":        o.Media.State(),
			"participants": roster(o),
		})
	})

	api.GET("/participants", func(c *gin.Context) {
		c.JSON(http.StatusOK, roster(o))
	})

	api.POST("/media/mute", func(c *gin.Context) {
		enabled := o.Media.ToggleMute()
		c.JSON(http.StatusOK, gin.H{"audio_enabled": enabled})
	})

	api.POST("/media/camera", func(c *gin.Context) {
		enabled := o.Media.ToggleCamera()
		c.JSON(http.StatusOK, gin.H{"video_enabled": enabled})
	})

	api.POST("/media/screen", func(c *gin.Context) {
		err := o.Do(c.Request.Context(), o.Media.StartScreenShare)
		respondMedia(c, o, err)
	})

	api.DELETE("/media/screen", func(c *gin.Context) {
		err := o.Do(c.Request.Context(), o.Media.StopScreenShare)
		respondMedia(c, o, err)
	})

	api.POST("/leave", func(c *gin.Context) {
		err := o.Do(c.Request.Context(), func(ctx context.Context) error {
			return o.Leave(ctx)
		})
		if err != nil {
			log.Error().Err(err).Str("module", "adapters.http").Msg("leave")
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"left": o.Room})
		if onLeave != nil {
			onLeave()
		}
	})

	return r
}

func roster(o *orch.Orchestrator) []participantView {
	snap := o.Registry.Snapshot()
	out := make([]participantView, 0, len(snap))
	for _, p := range snap {
		v := participantView{ID: p.ID, State: p.State.String()}
		if s, ok := o.Session(p.ID); ok {
			v.Negotiation = s.State().String()
		}
		if st, ok := o.Registry.Stream(p.ID); ok {
			v.Tracks = st.Stats()
		}
		out = append(out, v)
	}
	return out
}

func respondMedia(c *gin.Context, o *orch.Orchestrator, err error) {
	var derr *domain.DeviceError
	switch {
	case err == nil:
		c.JSON(http.StatusOK, o.Media.State())
	case errors.Is(err, domain.ErrAlreadySharing), errors.Is(err, domain.ErrNotSharing):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, domain.ErrPermissionDenied):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.As(err, &derr):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	default:
		log.Error().Err(err).Str("module", "adapters.http").Msg("media control")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
