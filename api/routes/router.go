package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/luisherrera/subtally-backend/api/controllers"
	"github.com/luisherrera/subtally-backend/api/middleware"
	authsvc "github.com/luisherrera/subtally-backend/internal/auth"
	"github.com/luisherrera/subtally-backend/internal/invitations"
	"github.com/luisherrera/subtally-backend/internal/memberships"
	"github.com/luisherrera/subtally-backend/internal/notifications"
	"github.com/luisherrera/subtally-backend/internal/realtime"
	"github.com/luisherrera/subtally-backend/internal/subscriptions"
	"github.com/luisherrera/subtally-backend/pkg/auth/session"
	"github.com/luisherrera/subtally-backend/pkg/config"
	"github.com/luisherrera/subtally-backend/pkg/logger"
)

// RouterParams bundles everything the HTTP surface depends on.
type RouterParams struct {
	Config         *config.Config
	Logger         *logger.Logger
	SessionChecker session.AccessSessionChecker
	Auth           authsvc.Service
	Subscriptions  subscriptions.Service
	Invitations    invitations.Service
	Memberships    memberships.Service
	Notifications  notifications.Service
	Hub            *realtime.Hub
}

func NewRouter(params RouterParams) http.Handler {
	cfg := params.Config
	logg := params.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg))
	})

	r.Route("/api/v1/auth", func(r chi.Router) {
		r.Post("/register", controllers.Register(params.Auth, logg))
		r.Post("/login", controllers.Login(params.Auth, logg))
		r.With(middleware.Auth(cfg.JWT, params.SessionChecker, logg)).
			Post("/logout", controllers.Logout(params.Auth, logg))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, params.SessionChecker, logg))

		r.Route("/subscriptions", func(r chi.Router) {
			r.Post("/", controllers.CreateSubscription(params.Subscriptions, logg))
			r.Get("/", controllers.ListSubscriptions(params.Subscriptions, logg))

			r.Route("/{subscriptionID}", func(r chi.Router) {
				r.Get("/", controllers.GetSubscription(params.Subscriptions, logg))
				r.Patch("/", controllers.UpdateSubscription(params.Subscriptions, logg))
				r.Delete("/", controllers.DeleteSubscription(params.Subscriptions, logg))

				r.Post("/invitations", controllers.InviteMember(params.Invitations, logg))
				r.Post("/invitations/respond", controllers.RespondToInvite(params.Memberships, logg))
				r.Post("/leave", controllers.LeaveSubscription(params.Memberships, logg))
				r.Get("/members", controllers.ListMembers(params.Memberships, logg))
			})
		})

		r.Get("/memberships", controllers.ListMyMemberships(params.Memberships, logg))

		r.Route("/notifications", func(r chi.Router) {
			r.Get("/", controllers.ListNotifications(params.Notifications, logg))
			r.Get("/unread-count", controllers.UnreadNotificationCount(params.Notifications, logg))
			r.Post("/read-all", controllers.MarkAllNotificationsRead(params.Notifications, logg))
			r.Post("/{notificationID}/read", controllers.MarkNotificationRead(params.Notifications, logg))
			r.Get("/stream", controllers.StreamNotifications(params.Hub, logg))
		})
	})

	return r
}
