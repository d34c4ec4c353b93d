package blockexchange

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/emberchain/ember/config"
	"github.com/emberchain/ember/internal/chainsync"
	"github.com/emberchain/ember/libs/log"
	"github.com/emberchain/ember/libs/service"
	"github.com/emberchain/ember/types"
)

const inboxCapacity = 64

var (
	// ErrUnknownPeer is returned when a block arrives from a peer that
	// never sent a status update.
	ErrUnknownPeer = errors.New("block from unknown peer")
	// ErrWrongPeer is returned when a block arrives from a peer other than
	// the one the height was requested from.
	ErrWrongPeer = errors.New("block from wrong peer")
	// ErrBadHeader is returned for blocks whose header is in the
	// bad-headers set exported by the sync engine.
	ErrBadHeader = errors.New("block in bad-headers set")
	// ErrUnsolicitedBlock is returned for heights no request is
	// outstanding for.
	ErrUnsolicitedBlock = errors.New("unsolicited block")
)

// PeerID uniquely identifies a peer across the transport.
type PeerID string

// Transport abstracts the peer/networking layer the exchange drives.
// RequestBlock asks one peer for one height; Broadcast fans an
// announcement out to all peers. Both must not block indefinitely.
type Transport interface {
	RequestBlock(peer PeerID, height uint64) error
	Broadcast(msg chainsync.Message)
}

type exPeer struct {
	id     PeerID
	base   uint64
	height uint64

	// outstanding requests assigned to this peer, by request time
	pending map[uint64]time.Time
}

// Exchange is the concrete BlockExchange. It owns the download schedule:
// which heights to fetch, from which peers, and in what order downloaded
// blocks surface on the result queue.
type Exchange struct {
	service.BaseService
	logger log.Logger

	cfg       *config.SyncConfig
	transport Transport
	queue     *chainsync.ResultQueue
	inbox     chan chainsync.Message

	mtx             sync.Mutex
	peers           map[PeerID]*exPeer
	assigned        map[uint64]PeerID       // requested heights
	received        map[uint64]*types.Block // delivered, not yet emitted
	badHeaders      map[types.Hash]struct{}
	downloading     bool
	tracking        chainsync.TargetTracking
	fixedTarget     uint64 // download cap under TrackNone
	nextRequest     uint64
	deliveredHeight uint64 // last height pushed to the result queue
	maxPeerHeight   uint64
}

var _ chainsync.BlockExchange = (*Exchange)(nil)

// NewExchange returns an unstarted exchange delivering batches on a queue
// sized by the config.
func NewExchange(logger log.Logger, cfg *config.SyncConfig, transport Transport) *Exchange {
	ex := &Exchange{
		logger:     logger,
		cfg:        cfg,
		transport:  transport,
		queue:      chainsync.NewResultQueue(cfg.ResultQueueCapacity),
		inbox:      make(chan chainsync.Message, inboxCapacity),
		peers:      make(map[PeerID]*exPeer),
		assigned:   make(map[uint64]PeerID),
		received:   make(map[uint64]*types.Block),
		badHeaders: make(map[types.Hash]struct{}),
	}
	ex.BaseService = *service.NewBaseService(logger, "BlockExchange", ex)
	return ex
}

// OnStart spawns the request scheduler and the inbox worker.
func (ex *Exchange) OnStart(ctx context.Context) error {
	go ex.schedulerRoutine(ctx)
	go ex.inboxRoutine(ctx)
	return nil
}

// OnStop halts downloading; the goroutines exit with the service context.
func (ex *Exchange) OnStop() {
	ex.StopDownloading()
}

// InitialState primes the exchange with the most recently persisted
// headers; the highest one becomes the delivery baseline.
func (ex *Exchange) InitialState(headers []*types.Header) {
	ex.mtx.Lock()
	defer ex.mtx.Unlock()

	for _, h := range headers {
		if h.Number > ex.deliveredHeight {
			ex.deliveredHeight = h.Number
		}
	}
	ex.nextRequest = ex.deliveredHeight + 1
}

// DownloadBlocks starts downloading forward of fromHeight. Under
// TrackByAnnouncements the target grows as peers advertise new blocks;
// under TrackNone it is pinned to the tallest peer known now.
func (ex *Exchange) DownloadBlocks(fromHeight uint64, target chainsync.TargetTracking) {
	ex.mtx.Lock()
	defer ex.mtx.Unlock()

	ex.downloading = true
	ex.tracking = target
	ex.fixedTarget = ex.maxPeerHeight
	ex.deliveredHeight = fromHeight
	ex.nextRequest = fromHeight + 1

	// drop stale state from a previous run
	for h := range ex.received {
		if h <= fromHeight {
			delete(ex.received, h)
		}
	}
	ex.logger.Info("downloading", "from", fromHeight, "max_peer_height", ex.maxPeerHeight)
}

// ResultQueue implements chainsync.BlockExchange.
func (ex *Exchange) ResultQueue() *chainsync.ResultQueue { return ex.queue }

// InSync reports whether every height peers advertise has been delivered.
// With no peers the exchange cannot claim to be in sync.
func (ex *Exchange) InSync() bool {
	ex.mtx.Lock()
	defer ex.mtx.Unlock()
	return len(ex.peers) > 0 && ex.deliveredHeight >= ex.targetHeight()
}

// CurrentHeight returns the exchange's view of the chain tip.
func (ex *Exchange) CurrentHeight() uint64 {
	ex.mtx.Lock()
	defer ex.mtx.Unlock()
	if ex.maxPeerHeight > ex.deliveredHeight {
		return ex.maxPeerHeight
	}
	return ex.deliveredHeight
}

// StopDownloading halts the scheduler and abandons outstanding requests.
func (ex *Exchange) StopDownloading() {
	ex.mtx.Lock()
	defer ex.mtx.Unlock()

	if !ex.downloading {
		return
	}
	ex.downloading = false
	ex.assigned = make(map[uint64]PeerID)
	for _, peer := range ex.peers {
		peer.pending = make(map[uint64]time.Time)
	}
}

// Accept implements the one-way message channel from the sync engine. It
// never blocks; messages are dropped (and logged) if the inbox is full.
func (ex *Exchange) Accept(msg chainsync.Message) {
	select {
	case ex.inbox <- msg:
	default:
		ex.logger.Error("exchange inbox full, dropping message")
	}
}

// SetPeerRange records a peer's advertised [base, height] block range,
// adding the peer if it is new. Peers are not allowed to lower their
// height.
func (ex *Exchange) SetPeerRange(id PeerID, base, height uint64) {
	ex.mtx.Lock()
	defer ex.mtx.Unlock()

	peer := ex.peers[id]
	if peer == nil {
		peer = &exPeer{id: id, pending: make(map[uint64]time.Time)}
		ex.peers[id] = peer
		ex.logger.Info("added peer", "peer", id, "base", base, "height", height,
			"num_peers", len(ex.peers))
	} else if height < peer.height {
		ex.removePeerLocked(id, errors.New("peer lowered its height"))
		return
	}
	peer.base = base
	peer.height = height

	if height > ex.maxPeerHeight {
		ex.maxPeerHeight = height
	}
}

// RemovePeer drops a peer and reschedules the heights assigned to it.
func (ex *Exchange) RemovePeer(id PeerID) {
	ex.mtx.Lock()
	defer ex.mtx.Unlock()
	ex.removePeerLocked(id, nil)
}

func (ex *Exchange) removePeerLocked(id PeerID, cause error) {
	peer := ex.peers[id]
	if peer == nil {
		return
	}
	ex.logger.Info("removing peer", "peer", id, "err", cause)

	// reschedule the heights the peer was serving
	for h := range peer.pending {
		delete(ex.assigned, h)
		if h < ex.nextRequest {
			ex.nextRequest = h
		}
	}
	delete(ex.peers, id)
	ex.updateMaxPeerHeightLocked()
}

// NumPeers returns the number of tracked peers.
func (ex *Exchange) NumPeers() int {
	ex.mtx.Lock()
	defer ex.mtx.Unlock()
	return len(ex.peers)
}

func (ex *Exchange) updateMaxPeerHeightLocked() {
	var newMax uint64
	for _, peer := range ex.peers {
		if peer.height > newMax {
			newMax = peer.height
		}
	}
	ex.maxPeerHeight = newMax
}

// AddBlock accepts a block delivered by the transport layer. announced
// marks blocks that arrived via a peer announcement; these are tagged for
// re-broadcast once the engine persists them.
func (ex *Exchange) AddBlock(id PeerID, block *types.Block, announced bool) error {
	ex.mtx.Lock()
	defer ex.mtx.Unlock()

	if _, bad := ex.badHeaders[block.Hash()]; bad {
		return ErrBadHeader
	}

	peer := ex.peers[id]
	if peer == nil {
		return ErrUnknownPeer
	}

	height := block.Header.Number
	want, requested := ex.assigned[height]
	if !requested {
		if _, have := ex.received[height]; have || height <= ex.deliveredHeight {
			return nil // late duplicate, drop silently
		}
		return ErrUnsolicitedBlock
	}
	if want != id {
		return ErrWrongPeer
	}

	block.ToAnnounce = announced
	ex.received[height] = block
	delete(ex.assigned, height)
	delete(peer.pending, height)
	return nil
}

// targetHeight is the height downloading aims at. Callers hold ex.mtx.
func (ex *Exchange) targetHeight() uint64 {
	if ex.downloading && ex.tracking == chainsync.TrackNone {
		return ex.fixedTarget
	}
	return ex.maxPeerHeight
}

func (ex *Exchange) schedulerRoutine(ctx context.Context) {
	ticker := time.NewTicker(ex.cfg.RequestInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ex.evictLaggards()
			ex.makeRequests()
			ex.emitBatches(ctx)
		}
	}
}

// evictLaggards removes peers that sat on a request beyond the timeout.
func (ex *Exchange) evictLaggards() {
	ex.mtx.Lock()
	defer ex.mtx.Unlock()

	now := time.Now()
	for id, peer := range ex.peers {
		for _, since := range peer.pending {
			if now.Sub(since) > ex.cfg.RequestTimeout {
				ex.removePeerLocked(id, errors.New("request timed out"))
				break
			}
		}
	}
}

// makeRequests assigns not-yet-requested heights to peers with capacity.
func (ex *Exchange) makeRequests() {
	ex.mtx.Lock()

	type request struct {
		peer   PeerID
		height uint64
	}
	var batch []request

	if ex.downloading {
		target := ex.targetHeight()
		for ex.nextRequest <= target &&
			len(ex.assigned)+len(ex.received) < ex.cfg.MaxPendingRequests {
			height := ex.nextRequest
			if _, have := ex.received[height]; have {
				ex.nextRequest++
				continue
			}
			if _, pending := ex.assigned[height]; pending {
				ex.nextRequest++
				continue
			}
			peer := ex.pickPeerLocked(height)
			if peer == nil {
				break // no peer can serve this height now
			}
			peer.pending[height] = time.Now()
			ex.assigned[height] = peer.id
			batch = append(batch, request{peer: peer.id, height: height})
			ex.nextRequest++
		}
	}
	ex.mtx.Unlock()

	for _, req := range batch {
		if err := ex.transport.RequestBlock(req.peer, req.height); err != nil {
			ex.logger.Error("block request failed", "peer", req.peer,
				"height", req.height, "err", err)
			ex.mtx.Lock()
			delete(ex.assigned, req.height)
			ex.removePeerLocked(req.peer, err)
			if req.height < ex.nextRequest {
				ex.nextRequest = req.height
			}
			ex.mtx.Unlock()
		}
	}
}

func (ex *Exchange) pickPeerLocked(height uint64) *exPeer {
	for _, peer := range ex.peers {
		if len(peer.pending) >= ex.cfg.MaxRequestsPerPeer {
			continue
		}
		if peer.base > height || peer.height < height {
			continue
		}
		return peer
	}
	return nil
}

// emitBatches pushes the contiguous run of received blocks above the
// delivery baseline onto the result queue.
func (ex *Exchange) emitBatches(ctx context.Context) {
	ex.mtx.Lock()
	var batch types.Blocks
	for {
		block, ok := ex.received[ex.deliveredHeight+1]
		if !ok {
			break
		}
		delete(ex.received, ex.deliveredHeight+1)
		ex.deliveredHeight++
		batch = append(batch, block)
	}
	ex.mtx.Unlock()

	if len(batch) == 0 {
		return
	}
	if err := ex.queue.Push(ctx, batch); err != nil {
		ex.logger.Error("dropping batch, result queue closed", "err", err)
	}
}

func (ex *Exchange) inboxRoutine(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-ex.inbox:
			ex.handleMessage(msg)
		}
	}
}

func (ex *Exchange) handleMessage(msg chainsync.Message) {
	switch m := msg.(type) {
	case chainsync.BadHeadersUpdate:
		ex.mtx.Lock()
		for hash := range m.BadHeaders {
			ex.badHeaders[hash] = struct{}{}
		}
		// drop anything already fetched that is now known bad
		for height, block := range ex.received {
			if _, bad := ex.badHeaders[block.Hash()]; bad {
				delete(ex.received, height)
			}
		}
		ex.mtx.Unlock()

	case chainsync.OutboundNewBlock, chainsync.OutboundNewBlockHashes:
		ex.transport.Broadcast(msg)

	default:
		ex.logger.Error("unknown message on exchange inbox")
	}
}
