package handlers

import (
	"log/slog"
	"net/http"
	"slices"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"github.com/CrowderSoup/taskboard/database"
	"github.com/CrowderSoup/taskboard/services"
)

// Deps are the services the HTTP surface is built over.
type Deps struct {
	Data      *database.DataService
	Hub       *services.Hub
	Directory *services.Directory
	Sessions  *services.SessionService
	Tasks     *services.TaskService
	Locks     *services.LockManager
	Resolver  *services.Resolver
	Recorder  *services.Recorder
	Logger    *slog.Logger

	AllowedOrigins []string
}

// NewRouter wires every route behind CORS, request logging and identity.
func NewRouter(d Deps) http.Handler {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	origins := d.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	users := NewUserHandler(d.Directory, d.Sessions)
	boards := NewBoardHandler(d.Directory)
	tasks := NewTaskHandler(d.Tasks)
	locks := NewLockHandler(d.Locks)
	conflicts := NewConflictHandler(d.Resolver)
	logs := NewLogHandler(d.Recorder)
	socket := NewSocketHandler(d.Hub, d.Directory, d.Sessions, originChecker(origins))
	identity := NewIdentityMiddleware(d.Sessions)

	r := mux.NewRouter()
	r.Use(LogRequests(d.Logger))

	r.HandleFunc("/health", health(d.Data, d.Hub)).Methods("GET")

	// WebSocket route for real-time updates
	r.HandleFunc("/api/ws", socket.HandleWebSocket).Methods("GET")

	api := r.PathPrefix("/api").Subrouter()
	api.Use(identity.Identify)

	api.HandleFunc("/session", users.CreateSession).Methods("POST")
	api.HandleFunc("/users", users.List).Methods("GET")
	api.HandleFunc("/users", users.Create).Methods("POST")

	api.HandleFunc("/boards", boards.List).Methods("GET")
	api.HandleFunc("/boards", boards.Create).Methods("POST")
	api.HandleFunc("/boards/{boardID}", boards.Get).Methods("GET")
	api.HandleFunc("/boards/{boardID}", boards.Update).Methods("PUT")
	api.HandleFunc("/boards/{boardID}", boards.Delete).Methods("DELETE")

	api.HandleFunc("/tasks", tasks.Create).Methods("POST")
	api.HandleFunc("/tasks/board/{boardID}", tasks.ListByBoard).Methods("GET")
	api.HandleFunc("/tasks/{taskID}", tasks.Get).Methods("GET")
	api.HandleFunc("/tasks/{taskID}", tasks.Update).Methods("PUT")
	api.HandleFunc("/tasks/{taskID}", tasks.Delete).Methods("DELETE")
	api.HandleFunc("/tasks/{taskID}/status", tasks.ChangeStatus).Methods("PATCH")
	api.HandleFunc("/tasks/{taskID}/assign/{userID}", tasks.Assign).Methods("PATCH")
	api.HandleFunc("/tasks/{taskID}/smart-assign", tasks.SmartAssign).Methods("PATCH")

	api.HandleFunc("/locks/{taskID}/lock", locks.Lock).Methods("POST")
	api.HandleFunc("/locks/{taskID}/unlock", locks.Unlock).Methods("POST")
	api.HandleFunc("/locks/{taskID}", locks.Check).Methods("GET")

	api.HandleFunc("/conflicts/user/{userID}", conflicts.ListForUser).Methods("GET")
	api.HandleFunc("/conflicts/{conflictID}/resolve", conflicts.Resolve).Methods("POST")

	api.HandleFunc("/logs/recent", logs.Recent).Methods("GET")

	c := cors.New(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})
	return c.Handler(r)
}

func originChecker(origins []string) func(*http.Request) bool {
	if slices.Contains(origins, "*") {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || slices.Contains(origins, origin)
	}
}

func health(data *database.DataService, hub *services.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := data.Ping(r.Context()); err != nil {
			slog.Error("health check failed", "error", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "unavailable"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"status":  "ok",
			"clients": hub.ClientCount(),
		})
	}
}
