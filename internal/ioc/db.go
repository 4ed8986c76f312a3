package ioc

import (
	"context"
	"time"

	"gitee.com/flycash/notification-dispatch/internal/repository/dao"
	"github.com/ecodeclub/ekit/retry"
	"github.com/ego-component/egorm"
)

func InitDB() *egorm.Component {
	db := egorm.Load("mysql").Build()
	waitForDB(db)
	if err := dao.InitTables(db); err != nil {
		panic(err)
	}
	return db
}

// waitForDB 数据库和服务一起拉起的时候，数据库可能还没有就绪
func waitForDB(db *egorm.Component) {
	sqlDB, err := db.DB()
	if err != nil {
		panic(err)
	}
	const maxInterval = 10 * time.Second
	const maxRetries = 10
	strategy, err := retry.NewExponentialBackoffRetryStrategy(time.Second, maxInterval, maxRetries)
	if err != nil {
		panic(err)
	}
	const timeout = 5 * time.Second
	for {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		err = sqlDB.PingContext(ctx)
		cancel()
		if err == nil {
			return
		}
		next, ok := strategy.Next()
		if !ok {
			panic("等待数据库就绪超时")
		}
		time.Sleep(next)
	}
}
