package catalog

import "strings"

// Routing topics attached to completions.
const (
	TopicUserAdded              = "userAdded"
	TopicUserUpdated            = "userUpdated"
	TopicUserDeleted            = "userDeleted"
	TopicUserRetrieved          = "userRetrieved"
	TopicProductAdded           = "productAdded"
	TopicProductUpdated         = "productUpdated"
	TopicProductDeleted         = "productDeleted"
	TopicProductRetrieved       = "productRetrieved"
	TopicStockUpdated           = "stockUpdated"
	TopicBatchUsersCompleted    = "batchUsersCompleted"
	TopicBatchProductsCompleted = "batchProductsCompleted"
)

// Topic returns the routing topic for an operation name, or "" when the
// name has none.
func Topic(name string) string {
	switch name {
	case AddUser:
		return TopicUserAdded
	case UpdateUser:
		return TopicUserUpdated
	case DeleteUser:
		return TopicUserDeleted
	case GetAllUsers:
		return TopicUserRetrieved
	case AddProduct:
		return TopicProductAdded
	case UpdateProduct:
		return TopicProductUpdated
	case DeleteProduct:
		return TopicProductDeleted
	case GetAllProducts:
		return TopicProductRetrieved
	case BatchUsers:
		return TopicBatchUsersCompleted
	case BatchProducts:
		return TopicBatchProductsCompleted
	}

	switch {
	case strings.HasPrefix(name, "getUser"), strings.HasPrefix(name, "findUser"):
		return TopicUserRetrieved
	case strings.HasPrefix(name, "getProduct"), strings.HasPrefix(name, "findProduct"):
		return TopicProductRetrieved
	case strings.Contains(name, "Stock"):
		return TopicStockUpdated
	}
	return ""
}
