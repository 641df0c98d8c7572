package instrument

import (
	"time"

	"github.com/qseries/q2150ctl/wire"
)

// runFreerunReader drains FREERUN_READING lines into the ring buffer
// until stopCh closes or the link faults. It holds no controller lock
// except the brief one inside setState when it needs to flag ERROR.
func (c *Controller) runFreerunReader(stopCh chan struct{}, sensorID string) {
	defer c.readerWG.Done()
	log := c.log.WithField("mode", "freerun")
	for {
		select {
		case <-stopCh:
			return
		default:
		}
		line, ok, err := c.transport.ReadLine(c.timing.ReadTimeout)
		if err != nil {
			log.WithError(err).Error("reader i/o fault, entering ERROR")
			c.setState(ErrorState)
			return
		}
		if !ok {
			continue
		}
		switch kind := wire.Classify(line); kind {
		case wire.FreerunReading:
			r, err := wire.ParseFreerun(line, sensorID, time.Now())
			if err != nil {
				log.WithField("line", line).Warn("dropping unparsable freerun line")
				continue
			}
			c.buf.Append(r)
		case wire.MenuPrompt:
			log.Warn("unexpected menu prompt during acquisition, entering ERROR")
			c.setState(ErrorState)
			return
		default:
			log.WithField("kind", kind).WithField("line", line).Debug("dropping non-reading line")
		}
	}
}

// runPolledReader arms polled mode, then queries at pollHz until
// stopCh closes or the link faults. A TAG mismatch on a single reply is
// logged and skipped; it does not end the session.
func (c *Controller) runPolledReader(stopCh chan struct{}, sensorID string, tag byte, pollHz float64, settle time.Duration) {
	defer c.readerWG.Done()
	log := c.log.WithField("mode", "polled")

	if _, err := c.transport.Write(wire.PolledInit(tag)); err != nil {
		log.WithError(err).Error("polled init failed, entering ERROR")
		c.setState(ErrorState)
		return
	}
	select {
	case <-stopCh:
		return
	case <-time.After(settle + 500*time.Millisecond):
	}

	period := time.Second
	if pollHz > 0 {
		period = time.Duration(float64(time.Second) / pollHz)
	}

	for {
		select {
		case <-stopCh:
			return
		case <-time.After(period):
		}

		if _, err := c.transport.Write(wire.PolledQuery(tag)); err != nil {
			log.WithError(err).Error("polled query failed, entering ERROR")
			c.setState(ErrorState)
			return
		}
		line, ok, err := c.transport.ReadLine(c.timing.ReadTimeout)
		if err != nil {
			log.WithError(err).Error("reader i/o fault, entering ERROR")
			c.setState(ErrorState)
			return
		}
		if !ok {
			continue
		}
		switch kind := wire.Classify(line); kind {
		case wire.PolledReading:
			r, err := wire.ParsePolled(line, tag, sensorID, time.Now())
			if err != nil {
				log.WithField("line", line).Warn("dropping bad polled reply")
				continue
			}
			c.buf.Append(r)
		case wire.MenuPrompt:
			log.Warn("unexpected menu prompt during acquisition, entering ERROR")
			c.setState(ErrorState)
			return
		default:
			log.WithField("kind", kind).WithField("line", line).Debug("dropping non-reading line")
		}
	}
}
