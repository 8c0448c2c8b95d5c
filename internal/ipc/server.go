package ipc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"os"
	"sync"

	"audiorouter/internal/daemon"
	"audiorouter/internal/logging"
)

// Server exposes daemon control via JSON-RPC over a Unix domain socket.
type Server struct {
	path      string
	logger    *slog.Logger
	listener  net.Listener
	rpcServer *rpc.Server

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServer configures the IPC server at the given socket path. The socket is
// created owner-only.
func NewServer(ctx context.Context, path string, d *daemon.Daemon, logger *slog.Logger) (*Server, error) {
	if d == nil {
		return nil, errors.New("ipc server requires daemon")
	}
	logger = logging.NewComponentLogger(logger, "ipc")

	if err := os.RemoveAll(path); err != nil {
		return nil, fmt.Errorf("remove existing socket: %w", err)
	}

	listener, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen on socket: %w", err)
	}
	if err := os.Chmod(path, 0o600); err != nil {
		listener.Close()
		return nil, fmt.Errorf("restrict socket permissions: %w", err)
	}

	serverCtx, cancel := context.WithCancel(ctx)
	rpcServer := rpc.NewServer()
	srv := &service{daemon: d, logger: logger, ctx: serverCtx}
	if err := rpcServer.RegisterName(ServiceName, srv); err != nil {
		cancel()
		listener.Close()
		return nil, fmt.Errorf("register rpc service: %w", err)
	}

	return &Server{
		path:      path,
		logger:    logger,
		listener:  listener,
		rpcServer: rpcServer,
		ctx:       serverCtx,
		cancel:    cancel,
	}, nil
}

// Serve starts accepting RPC connections until the context is canceled.
func (s *Server) Serve() {
	s.logger.Debug("IPC server listening", logging.String("socket", s.path))
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			conn, err := s.listener.Accept()
			if err != nil {
				select {
				case <-s.ctx.Done():
					return
				default:
				}
				if errors.Is(err, net.ErrClosed) {
					return
				}
				logging.WarnWithContext(s.logger, "accept failed", "ipc_accept_failed",
					logging.Error(err),
					logging.String(logging.FieldImpact, "CLI commands may fail to reach the daemon"),
					logging.String(logging.FieldErrorHint, "check socket permissions and restart the daemon if needed"))
				continue
			}
			s.wg.Add(1)
			go func(c net.Conn) {
				defer s.wg.Done()
				s.rpcServer.ServeCodec(jsonrpc.NewServerCodec(c))
			}(conn)
		}
	}()
}

// Close stops the server and removes the socket file.
func (s *Server) Close() {
	s.cancel()
	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.wg.Wait()
	if err := os.RemoveAll(s.path); err != nil {
		logging.WarnWithContext(s.logger, "failed to remove socket", "ipc_socket_cleanup_failed",
			logging.String("socket", s.path),
			logging.Error(err),
			logging.String(logging.FieldImpact, "stale IPC socket may confuse later status checks"),
			logging.String(logging.FieldErrorHint, "remove the socket file manually"))
	}
}

type service struct {
	daemon *daemon.Daemon
	logger *slog.Logger
	ctx    context.Context
}

func (s *service) Status(_ StatusRequest, resp *StatusResponse) error {
	st := s.daemon.Status()
	*resp = StatusResponse{
		Running:        st.Running,
		State:          string(st.State),
		PID:            st.PID,
		StartedAt:      st.StartedAt,
		Connected:      st.Connected,
		UdevMonitoring: st.UdevMonitoring,
		WatchingFile:   st.WatchingFile,
		RoutingFile:    st.RoutingFile,
		RoutingError:   st.RoutingError,
		Buses:          st.Buses,
		Rules:          st.Rules,
		LastPass:       st.LastPass,
		LastError:      st.LastError,
		LockPath:       st.LockPath,
		StatePath:      st.StatePath,
	}
	return nil
}

func (s *service) Apply(_ ApplyRequest, resp *ApplyResponse) error {
	s.logger.Debug("apply requested")
	result, err := s.daemon.RequestApply(s.ctx)
	resp.Result = result
	if err != nil {
		if result.PassID == "" {
			return err
		}
		resp.Error = err.Error()
	}
	return nil
}

func (s *service) Buses(_ BusesRequest, resp *BusesResponse) error {
	buses, err := s.daemon.Buses(s.ctx)
	if err != nil {
		return err
	}
	resp.Buses = buses
	return nil
}

func (s *service) Streams(_ StreamsRequest, resp *StreamsResponse) error {
	streams, err := s.daemon.Streams(s.ctx)
	if err != nil {
		return err
	}
	resp.Streams = streams
	return nil
}

func (s *service) MoveStream(req MoveStreamRequest, resp *MoveStreamResponse) error {
	if req.Sink == "" {
		return errors.New("move requires a target sink")
	}
	if err := s.daemon.MoveStream(s.ctx, req.StreamID, req.Sink); err != nil {
		return err
	}
	resp.Moved = true
	return nil
}

func (s *service) SetVolume(req SetVolumeRequest, resp *SetVolumeResponse) error {
	if err := s.daemon.SetVolume(s.ctx, req.Bus, req.Volume); err != nil {
		return err
	}
	resp.Applied = true
	return nil
}

func (s *service) SetMute(req SetMuteRequest, resp *SetMuteResponse) error {
	if err := s.daemon.SetMute(s.ctx, req.Bus, req.Mute); err != nil {
		return err
	}
	resp.Applied = true
	return nil
}

func (s *service) History(req HistoryRequest, resp *HistoryResponse) error {
	passes, err := s.daemon.History(s.ctx, req.Limit)
	if err != nil {
		return err
	}
	resp.Passes = passes
	return nil
}

func (s *service) Stop(_ StopRequest, resp *StopResponse) error {
	s.logger.Info("daemon stop requested via IPC",
		logging.String(logging.FieldEventType, "daemon_stop_requested"))
	s.daemon.Stop()
	resp.Stopped = true
	return nil
}
