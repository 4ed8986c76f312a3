package ioc

import (
	"context"
	"fmt"
	"time"

	"gitee.com/flycash/notification-dispatch/internal/repository/dao"
	"github.com/ecodeclub/ekit/retry"
	"github.com/ego-component/egorm"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const dsn = "root:root@tcp(localhost:13316)/notification_dispatch?charset=utf8mb4&collation=utf8mb4_general_ci&parseTime=True&loc=Local&timeout=1s&readTimeout=3s&writeTimeout=3s"

// InitDB 连接 docker compose 拉起的 mysql，建好表之后返回
func InitDB() *egorm.Component {
	// 数据库可能还没有就绪，先不连接
	db, err := gorm.Open(mysql.New(mysql.Config{
		DSN:                       dsn,
		SkipInitializeWithVersion: true,
	}), &gorm.Config{
		Logger:               logger.Default.LogMode(logger.Warn),
		DisableAutomaticPing: true,
	})
	if err != nil {
		panic(fmt.Errorf("数据库连接失败: %w", err))
	}
	waitForDB(db)
	if err = dao.InitTables(db); err != nil {
		panic(err)
	}
	return db
}

func waitForDB(db *gorm.DB) {
	sqlDB, err := db.DB()
	if err != nil {
		panic(err)
	}
	strategy, err := retry.NewExponentialBackoffRetryStrategy(time.Second, 10*time.Second, 10)
	if err != nil {
		panic(err)
	}
	for {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err = sqlDB.PingContext(ctx)
		cancel()
		if err == nil {
			return
		}
		next, ok := strategy.Next()
		if !ok {
			panic(fmt.Errorf("等待数据库就绪超时: %w", err))
		}
		time.Sleep(next)
	}
}
