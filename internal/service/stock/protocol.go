package stock

import (
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/bookcafe/internal/domain"
)

const (
	maxSaveRetries = 3
	saveRetryBase  = 10 * time.Millisecond
)

// Protocol реализует протокол резервирования остатков: сначала валидация
// всего списка позиций, затем фиксация изменений. Записи в хранилища товаров
// независимы и атомарны только по отдельности; кросс-записьной атомарности
// нет, сбой между записями оставляет остатки частично обновлёнными.
type Protocol struct {
	registry *domain.StockRegistry
	logger   *log.Entry
	onRetry  func()
}

// NewProtocol создаёт протокол поверх реестра хранилищ товаров.
func NewProtocol(registry *domain.StockRegistry, logger *log.Entry) *Protocol {
	if logger == nil {
		logger = log.WithField("component", "stock-protocol")
	}
	return &Protocol{
		registry: registry,
		logger:   logger,
	}
}

// OnVersionRetry регистрирует колбэк, вызываемый перед каждым повтором
// записи остатка после конфликта версий. Вызывать до начала работы протокола.
func (p *Protocol) OnVersionRetry(hook func()) {
	p.onRetry = hook
}

// stockUpdate — запланированное изменение остатка одного товара.
// delta — требуемое уменьшение остатка; отрицательное значение означает
// возврат товара на склад.
type stockUpdate struct {
	productType domain.ProductType
	productID   string
	delta       int
}

// Reserve валидирует и фиксирует изменения остатков для желаемого списка
// позиций. previous — ранее зафиксированные позиции того же заказа
// (nil для нового заказа). Дельта каждой позиции считается инкрементально
// против прежнего количества; позиция, сведённая к нулю или исчезнувшая из
// списка, трактуется как полный возврат остатка.
//
// Валидация выполняется по принципу «всё или ничего»: все недостачи
// собираются по всему списку и возвращаются одной ошибкой
// InsufficientStockError, ни один остаток при этом не меняется.
func (p *Protocol) Reserve(desired, previous []domain.LineItem) error {
	updates, err := p.plan(desired, previous)
	if err != nil {
		return err
	}
	return p.commit(updates)
}

// Release безусловно возвращает остатки по всем позициям отменённого
// заказа. Валидационного барьера нет: возврат применяется всегда.
func (p *Protocol) Release(items []domain.LineItem) error {
	updates := make([]stockUpdate, 0, len(items))
	for _, item := range items {
		if item.Quantity <= 0 {
			continue
		}
		updates = append(updates, stockUpdate{
			productType: item.ProductType,
			productID:   item.ProductID,
			delta:       -item.Quantity,
		})
	}
	return p.commit(updates)
}

// plan загружает задействованные товары, проверяет достаточность остатков и
// возвращает список изменений. Ничего не мутирует.
func (p *Protocol) plan(desired, previous []domain.LineItem) ([]stockUpdate, error) {
	for _, item := range desired {
		if item.Quantity < 0 {
			return nil, domain.ErrItemQuantityInvalid
		}
	}

	// Дубликаты одного товара сводятся к одной позиции: иначе каждый дубль
	// планировался бы как отдельное изменение против одного и того же
	// прочитанного остатка, и commit мог бы применить часть из них до отказа.
	desired = coalesceItems(desired)
	previous = coalesceItems(previous)

	updates := make([]stockUpdate, 0, len(desired)+len(previous))
	var insufficient []domain.InsufficientProduct

	for _, item := range desired {
		prevQty := previousQuantity(previous, item.ProductType, item.ProductID)
		delta := item.Quantity - prevQty
		if delta == 0 {
			continue
		}

		product, err := p.find(item.ProductType, item.ProductID)
		if err != nil {
			return nil, err
		}

		if delta > 0 && product.Stock < delta {
			insufficient = append(insufficient, domain.InsufficientProduct{
				ProductType: product.Type,
				ProductID:   product.ID,
				Name:        product.Name,
				Remaining:   product.Stock,
			})
			continue
		}

		updates = append(updates, stockUpdate{
			productType: item.ProductType,
			productID:   item.ProductID,
			delta:       delta,
		})
	}

	// Позиции, полностью исчезнувшие из нового списка, возвращаются на склад.
	for _, prev := range previous {
		if prev.Quantity <= 0 {
			continue
		}
		if containsItem(desired, prev.ProductType, prev.ProductID) {
			continue
		}
		if _, err := p.find(prev.ProductType, prev.ProductID); err != nil {
			return nil, err
		}
		updates = append(updates, stockUpdate{
			productType: prev.ProductType,
			productID:   prev.ProductID,
			delta:       -prev.Quantity,
		})
	}

	if len(insufficient) > 0 {
		return nil, &domain.InsufficientStockError{Products: insufficient}
	}

	return updates, nil
}

// commit применяет изменения по одному, каждое — независимая атомарная
// запись, обусловленная последней прочитанной версией товара. При конфликте
// версий запись перечитывается и повторяется ограниченное число раз.
func (p *Protocol) commit(updates []stockUpdate) error {
	for _, update := range updates {
		if err := p.apply(update); err != nil {
			return err
		}
	}
	return nil
}

func (p *Protocol) apply(update stockUpdate) error {
	for attempt := 0; attempt < maxSaveRetries; attempt++ {
		product, err := p.find(update.productType, update.productID)
		if err != nil {
			return err
		}

		newStock := product.Stock - update.delta
		if newStock < 0 {
			// Остаток успел измениться между валидацией и фиксацией.
			return &domain.InsufficientStockError{
				Products: []domain.InsufficientProduct{{
					ProductType: product.Type,
					ProductID:   product.ID,
					Name:        product.Name,
					Remaining:   product.Stock,
				}},
			}
		}

		product.Stock = newStock
		product.UpdatedAt = time.Now().UTC()

		store, err := p.registry.For(update.productType)
		if err != nil {
			return err
		}

		saveErr := store.Save(product)
		if saveErr == nil {
			return nil
		}
		if !domain.IsVersionConflict(saveErr) {
			return fmt.Errorf("save product %s/%s: %w", update.productType, update.productID, saveErr)
		}

		p.logger.WithFields(log.Fields{
			"product_type": update.productType,
			"product_id":   update.productID,
			"attempt":      attempt + 1,
		}).Warn("stock version conflict detected, retrying")
		if p.onRetry != nil {
			p.onRetry()
		}

		time.Sleep(saveRetryBase * time.Duration(1<<uint(attempt)))
	}

	return fmt.Errorf("save product %s/%s: %w", update.productType, update.productID, domain.ErrVersionConflict)
}

func (p *Protocol) find(productType domain.ProductType, productID string) (domain.Product, error) {
	store, err := p.registry.For(productType)
	if err != nil {
		return domain.Product{}, err
	}

	product, err := store.FindByID(productID)
	if err != nil {
		return domain.Product{}, fmt.Errorf("find product %s/%s: %w", productType, productID, err)
	}
	return product, nil
}

type productKey struct {
	productType domain.ProductType
	productID   string
}

// coalesceItems суммирует количество по каждому товару, сохраняя порядок
// первого вхождения. Остальные поля позиции берутся из первого вхождения.
func coalesceItems(items []domain.LineItem) []domain.LineItem {
	out := make([]domain.LineItem, 0, len(items))
	index := make(map[productKey]int, len(items))

	for _, item := range items {
		key := productKey{item.ProductType, item.ProductID}
		if i, ok := index[key]; ok {
			out[i].Quantity += item.Quantity
			continue
		}
		index[key] = len(out)
		out = append(out, item)
	}
	return out
}

func previousQuantity(previous []domain.LineItem, productType domain.ProductType, productID string) int {
	for _, item := range previous {
		if item.ProductType == productType && item.ProductID == productID {
			return item.Quantity
		}
	}
	return 0
}

func containsItem(items []domain.LineItem, productType domain.ProductType, productID string) bool {
	for _, item := range items {
		if item.ProductType == productType && item.ProductID == productID {
			return true
		}
	}
	return false
}
