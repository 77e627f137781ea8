package event

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/life-stream-dev/life-stream-go-chat-gateway/internal/logger"
)

const invokeTimeout = 10 * time.Second

type Callable interface {
	Invoke(ctx context.Context) error
}

// CallableFunc 让普通函数满足 Callable
type CallableFunc func(ctx context.Context) error

func (f CallableFunc) Invoke(ctx context.Context) error {
	return f(ctx)
}

// Cleaner 进程退出时按注册的逆序执行清理回调，日志最后关闭
type Cleaner struct {
	cleaners       []Callable
	mu             sync.Mutex
	cleaning       bool
	loggerShutdown Callable
}

func NewCleaner() *Cleaner {
	return &Cleaner{}
}

func (c *Cleaner) Add(callable Callable) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cleaning {
		logger.Debug("Cleaner is already shutting down, ignoring new cleaner")
		return
	}
	c.cleaners = append(c.cleaners, callable)
}

func (c *Cleaner) Init(loggerShutdown Callable) {
	c.mu.Lock()
	c.loggerShutdown = loggerShutdown
	c.mu.Unlock()
}

// Clean 只会真正执行一次，返回所有回调错误的合并
func (c *Cleaner) Clean() error {
	c.mu.Lock()
	if c.cleaning {
		c.mu.Unlock()
		return nil
	}
	c.cleaning = true // 阻止后续 Add
	cleanersCopy := make([]Callable, len(c.cleaners))
	copy(cleanersCopy, c.cleaners)
	loggerShutdown := c.loggerShutdown
	c.mu.Unlock()

	logger.DebugF("Starting cleanup of %d registered functions", len(cleanersCopy))

	var errs []error
	for i := len(cleanersCopy) - 1; i >= 0; i-- {
		callable := cleanersCopy[i]
		func() {
			logger.DebugF("Invoking cleaner #%d (%T)", i+1, callable)
			timeoutCtx, cancel := context.WithTimeout(context.Background(), invokeTimeout)
			defer cancel()
			if err := callable.Invoke(timeoutCtx); err != nil {
				logger.ErrorF("Cleaner #%d (%T) failed: %v", i+1, callable, err)
				errs = append(errs, err)
			}
		}()
	}

	if len(errs) > 0 {
		logger.ErrorF("%d errors occurred during cleanup", len(errs))
	} else {
		logger.Debug("All cleaners executed successfully")
	}
	logger.Info("Cleanup finished, server offline")

	if loggerShutdown != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := loggerShutdown.Invoke(shutdownCtx); err != nil {
			fmt.Fprintf(os.Stderr, "LOGGER SHUTDOWN ERROR: %v\n", err)
		}
	}
	return errors.Join(errs...)
}
