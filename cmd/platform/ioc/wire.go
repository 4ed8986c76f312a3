//go:build wireinject

package ioc

import (
	"gitee.com/flycash/notification-dispatch/internal/ioc"
	"gitee.com/flycash/notification-dispatch/internal/repository"
	"gitee.com/flycash/notification-dispatch/internal/repository/dao"
	notificationsvc "gitee.com/flycash/notification-dispatch/internal/service/notification"
	"github.com/google/wire"
	"github.com/sony/sonyflake"
)

var (
	BaseSet = wire.NewSet(
		ioc.InitDB,
		ioc.InitRedisClient,
		ioc.InitRedisCmd,
		ioc.InitDistributedLock,
		ioc.InitIDGenerator,
		ioc.InitClock,
		ioc.InitEvents,
		ioc.InitReceiptConsumer,
		wire.FieldsOf(new(ioc.Events), "Delivery"),
	)
	repositorySet = wire.NewSet(
		repository.NewNotificationRepository,
		repository.NewDeliveryRepository,
		dao.NewNotificationDAO,
		dao.NewDeliveryDAO,
	)
	providerSet = wire.NewSet(
		ioc.InitSmsClients,
		ioc.InitProviders,
		wire.FieldsOf(new(ioc.Providers), "Router"),
	)
	senderSet = wire.NewSet(
		ioc.InitSenderConfig,
		ioc.InitRenderer,
		ioc.InitNotificationSender,
	)
	notificationSet = wire.NewSet(
		notificationsvc.NewService,
		ioc.InitScheduler,
		wire.Bind(new(notificationsvc.IDGenerator), new(*sonyflake.Sonyflake)),
	)
)

func InitApp() *ioc.App {
	wire.Build(
		// 基础设施
		BaseSet,
		repositorySet,

		// 供应商和路由
		providerSet,

		// 发送和调度
		senderSet,
		notificationSet,

		ioc.InitTasks,
		ioc.Crons,
		wire.Struct(new(ioc.App), "*"),
	)
	return new(ioc.App)
}
