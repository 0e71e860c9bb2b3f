package server

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/darenliang/gridstats-go/lib/config"
	"github.com/darenliang/gridstats-go/lib/costs"
	"github.com/darenliang/gridstats-go/lib/costs/persistence"
	"github.com/darenliang/gridstats-go/lib/interfaces"
	"github.com/darenliang/gridstats-go/lib/logging"
	"github.com/darenliang/gridstats-go/lib/metrics"
	"github.com/darenliang/gridstats-go/lib/node"
	"github.com/darenliang/gridstats-go/lib/protocol"
	"github.com/darenliang/gridstats-go/lib/server/managers"
	"github.com/darenliang/gridstats-go/lib/server/utils"
	"github.com/go-zeromq/zmq4"
	"github.com/panjf2000/ants/v2"
)

type Server struct {
	address     string
	config      config.Config
	ctx         context.Context
	wg          *sync.WaitGroup
	cancel      context.CancelFunc
	socket      *protocol.Socket
	sendLock    sync.Mutex
	registry    *costs.Registry
	receiver    *managers.StatisticsReceiver
	nodeManager *managers.NodeManager
	metrics     *metrics.Metrics
	received    *utils.MessageCounter
	sent        *utils.MessageCounter
	persist     func(ctx context.Context) error
}

func NewServer(
	ctx context.Context,
	address string,
	cfg config.Config,
	gateway persistence.Gateway,
	m *metrics.Metrics,
) (*Server, error) {
	identity, err := node.NewIdentity("S")
	if err != nil {
		return nil, err
	}

	registry, err := costs.NewRegistry(ctx, gateway)
	if err != nil {
		return nil, err
	}
	registry.SetStoreConcurrency(cfg.Persistence.StoreConcurrency)

	// create context to cancel background goroutines
	ctx, cancel := context.WithCancel(ctx)

	router := zmq4.NewRouter(ctx, zmq4.WithID(zmq4.SocketIdentity(identity)))
	if err := router.Listen(address); err != nil {
		cancel()
		_ = router.Close()
		return nil, fmt.Errorf("listen %s: %w", address, err)
	}

	s := &Server{
		address:     address,
		config:      cfg,
		ctx:         ctx,
		wg:          &sync.WaitGroup{},
		cancel:      cancel,
		socket:      protocol.NewSocket(router, identity),
		registry:    registry,
		receiver:    managers.NewStatisticsReceiver(registry),
		nodeManager: managers.NewNodeManager(cfg.Nodes.DecayInterval, cfg.Nodes.DecayFactor, cfg.Nodes.Retention),
		metrics:     m,
		received:    utils.NewMessageCounter(),
		sent:        utils.NewMessageCounter(),
		persist:     registry.CreatePersistenceWriter(),
	}

	s.wg.Add(3)
	go s.nodeManager.RunDecay(ctx, s.wg)
	go s.nodeManager.RunGC(ctx, s.wg, func(dropped int) { s.metrics.NodesPruned.Add(float64(dropped)) })
	go s.runPersistence(ctx, s.wg)

	return s, nil
}

func (s *Server) Registry() *costs.Registry {
	return s.registry
}

func (s *Server) NodeManager() *managers.NodeManager {
	return s.nodeManager
}

func (s *Server) Run() {
	logging.Logger.Infof("server started on %s", s.address)

	pool, err := ants.NewPool(s.config.PoolSize)
	if err != nil {
		logging.Logger.Fatal(err)
	}

	go func() {
		<-s.ctx.Done()
		logging.CheckError(s.socket.Close())
	}()

	for {
		msg, err := s.socket.Recv()
		if err != nil {
			if s.ctx.Err() != nil {
				break
			}
			logging.Logger.Error(err)
			continue
		}
		err = pool.Submit(func() { s.HandleMessage(msg) })
		if err != nil {
			logging.Logger.Error(err)
		}
	}

	s.cancel()
	pool.Release()
	s.wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), utils.ShutdownPersistTimeout)
	defer cancel()
	s.sweep(ctx)

	logging.Logger.Info("server exited")
}

func (s *Server) runPersistence(ctx context.Context, wg *sync.WaitGroup) {
	for {
		select {
		case <-time.After(s.config.Persistence.SweepInterval):
			s.sweep(ctx)
		case <-ctx.Done():
			logging.Logger.Info("persistence sweep stopped")
			wg.Done()
			return
		}
	}
}

func (s *Server) sweep(ctx context.Context) {
	s.metrics.PersistenceSweeps.Inc()
	if err := s.persist(ctx); err != nil {
		s.metrics.PersistenceFailures.Inc()
		logging.Logger.Errorf("persistence sweep failed: %s", err.Error())
	}
}

func (s *Server) send(destination string, messageType protocol.MessageType, payload interfaces.Serializable) {
	s.sendLock.Lock()
	err := s.socket.Send(destination, messageType, payload)
	s.sendLock.Unlock()
	if err != nil {
		logging.Logger.Error(err)
		return
	}
	s.sent.Inc(messageType)
}

func (s *Server) HandleMessage(msg [][]byte) {
	if len(msg) < 2 {
		logging.Logger.Errorf("received message only has %d frames", len(msg))
		return
	}

	source := string(msg[0])
	messageType := protocol.MessageType(msg[1])
	payload := msg[2:]

	if _, ok := protocol.MessageTypeSet[messageType]; ok {
		s.received.Inc(messageType)
		s.metrics.MessagesReceived.WithLabelValues(messageType.String()).Inc()
	}

	switch messageType {
	case protocol.MessageTypeStatisticsBatch:
		s.HandleStatisticsBatch(source, payload)
	case protocol.MessageTypeJobResult:
		s.HandleJobResult(source, payload)
	case protocol.MessageTypeHeartbeat:
		s.HandleHeartbeat(source, payload)
	case protocol.MessageTypeMonitoringRequest:
		s.HandleMonitoringRequest(source, payload)
	default:
		logging.Logger.Errorf("received message has unsupported type %s", messageType)
	}
}

func (s *Server) HandleStatisticsBatch(source string, payload [][]byte) {
	batch, err := protocol.DeserializeStatisticsBatch(payload)
	if err != nil {
		logging.Logger.Error(err)
		return
	}
	logging.LogRecvProtocolMessage(source, protocol.MessageTypeStatisticsBatch, batch)

	correction, ok, err := s.receiver.Receive(s.ctx, batch)
	if err != nil {
		logging.Logger.Errorf("statistics batch from %s partially merged: %s", source, err.Error())
	}

	var invocations uint64
	for _, configuration := range batch.Configurations {
		for _, function := range configuration.Functions {
			invocations += function.InvocationCount
		}
	}
	s.metrics.BatchesReceived.Inc()
	s.metrics.InvocationsMerged.Add(float64(invocations))

	if !ok {
		return
	}
	s.metrics.ScalingCorrections.Observe(correction)
	s.send(source, protocol.MessageTypeScalingFeedback, &protocol.ScalingFeedback{Scale: correction})
}

func (s *Server) HandleJobResult(source string, payload [][]byte) {
	result, err := protocol.DeserializeJobResult(payload)
	if err != nil {
		logging.Logger.Error(err)
		return
	}
	logging.LogRecvProtocolMessage(source, protocol.MessageTypeJobResult, result)

	if err := s.nodeManager.OnJobResult(result); err != nil {
		logging.Logger.Error(err)
		return
	}
	s.metrics.JobsReported.WithLabelValues(result.Status.String()).Inc()
}

func (s *Server) HandleHeartbeat(source string, payload [][]byte) {
	logging.Logger.Debugf("received heartbeat from %s", source)
}

func (s *Server) HandleMonitoringRequest(source string, payload [][]byte) {
	logging.Logger.Debugf("received monitoring request from %s", source)
	if _, err := protocol.DeserializeMonitorRequest(payload); err != nil {
		logging.Logger.Error(err)
		return
	}

	data, err := json.Marshal(s.GetStatistics())
	if err != nil {
		logging.Logger.Error(err)
		return
	}
	s.send(source, protocol.MessageTypeMonitoringResponse, &protocol.MonitorResponse{Data: data})
}

func (s *Server) GetStatistics() *utils.ServerStatistics {
	registry := &utils.CostRegistryStatistics{Functions: make([]persistence.CostSnapshot, 0)}
	s.registry.Mean().PopulateSnapshot(&registry.Mean)
	for _, statistics := range s.registry.Functions() {
		snapshot := persistence.CostSnapshot{}
		statistics.PopulateSnapshot(&snapshot)
		registry.Functions = append(registry.Functions, snapshot)
	}

	return &utils.ServerStatistics{
		Received:     s.received.Statistics(),
		Sent:         s.sent.Statistics(),
		CostRegistry: registry,
		NodeManager:  s.nodeManager.GetStatistics(),
	}
}
