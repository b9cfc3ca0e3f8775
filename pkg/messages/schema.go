package messages

import (
	"fmt"
	"sort"

	"github.com/invopop/jsonschema"
)

// prototypes maps each payload-bearing message type to its payload struct.
// Types that share a discriminator in both directions list the server shape.
var prototypes = map[string]interface{}{
	MessageTypeClientCreateRoom:   ClientCreateRoom{},
	MessageTypeClientJoinRoom:     ClientJoinRoom{},
	MessageTypeClientPlayerReady:  ClientPlayerReady{},
	MessageTypeClientPlayerState:  ClientPlayerState{},
	MessageTypeClientCollectItem:  ClientCollectItem{},
	MessageTypeClientEnemyState:   ClientEnemyState{},
	MessageTypeClientEnemySpawn:   ClientEnemyState{},
	MessageTypeClientCoinSpawn:    ClientCoinSpawn{},
	MessageTypeClientSyncEntities: ClientSyncEntities{},
	MessageTypeClientTimeSync:     ClientTimeSync{},
	MessageTypeClientReconnect:    ClientReconnect{},

	MessageTypeServerRoomCreated:          ServerRoomJoined{},
	MessageTypeServerRoomJoined:           ServerRoomJoined{},
	MessageTypeServerPlayerJoined:         ServerPlayerEvent{},
	MessageTypeServerPlayerLeft:           ServerPlayerEvent{},
	MessageTypeServerPlayerDisconnected:   ServerPlayerEvent{},
	MessageTypeServerPlayerReconnected:    ServerPlayerEvent{},
	MessageTypeServerPlayerReadyChanged:   ServerPlayerEvent{},
	MessageTypeServerPlayerStateUpdate:    ServerPlayerStateUpdate{},
	MessageTypeServerGameAction:           ServerGameAction{},
	MessageTypeServerChat:                 ServerChat{},
	MessageTypeServerGameStarting:         ServerGameStarting{},
	MessageTypeServerItemCollected:        ServerItemCollected{},
	MessageTypeServerItemAlreadyCollected: ServerItemAlreadyCollected{},
	MessageTypeServerEnemyStateUpdate:     ServerEnemyUpdate{},
	MessageTypeServerEnemySpawned:         ServerEnemyUpdate{},
	MessageTypeServerEnemyKilled:          ServerEnemyKilled{},
	MessageTypeServerEnemyAlreadyDead:     ServerEnemyAlreadyDead{},
	MessageTypeServerCoinSpawned:          ServerCoinSpawned{},
	MessageTypeServerEntitiesSync:         ServerEntitiesSync{},
	MessageTypeServerTimeSyncResponse:     ServerTimeSyncResponse{},
	MessageTypeServerReconnected:          ServerReconnected{},
	MessageTypeServerError:                ServerError{},
}

// SchemaTypes lists the message types that have a published schema, sorted.
func SchemaTypes() []string {
	types := make([]string, 0, len(prototypes))
	for t := range prototypes {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Schema reflects the JSON schema of the payload carried by msgType.
func Schema(msgType string) (*jsonschema.Schema, error) {
	proto, ok := prototypes[msgType]
	if !ok {
		return nil, fmt.Errorf("no schema for message type %s", msgType)
	}
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: true,
		DoNotReference:            true,
	}
	schema := reflector.Reflect(proto)
	schema.Title = msgType
	schema.Description = fmt.Sprintf("Fields of the %q message, alongside its type discriminator", msgType)
	return schema, nil
}
